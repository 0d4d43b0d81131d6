package domain

var (
	departmentScope = []State{
		StateAssignedNeedsAction, StateAssignedProposed, StateAssignedNeedRevision,
		StateAssignedApproved, StateAssignedNoAction,
		StateEscalatedNeedsAction, StateEscalatedApproved, StateEscalatedNoAction,
	}
	adminScope = []State{
		StateEscalated, StateEscalatedNeedsAction, StateEscalatedApproved, StateEscalatedNoAction,
		StateAssignedProposed, StateAssignedApproved, StateAssignedNoAction,
	}
)

// ScopeStates returns the composite states a role's dashboard covers. Nil
// means every state.
func ScopeStates(role Role) []State {
	switch role {
	case RoleDepartment:
		return append([]State(nil), departmentScope...)
	case RoleAdmin:
		return append([]State(nil), adminScope...)
	default:
		return nil
	}
}

// CanView reports whether a record in state s owned by department is inside
// the principal's dashboard scope.
func (p Principal) CanView(s State, department string) bool {
	switch p.Role {
	case RoleIntake:
		return true
	case RoleDepartment:
		return department == p.Department && inStates(departmentScope, s)
	case RoleAdmin:
		return inStates(adminScope, s)
	}
	return false
}

func inStates(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
