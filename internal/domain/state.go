package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a transition is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrRecordClosed is returned for state-changing calls against a closed record.
	ErrRecordClosed = errors.New("record closed")
	// ErrUnknownState is returned when a stored (status, deptStatus) pair is not reachable.
	ErrUnknownState = errors.New("unknown composite state")
)

// State is the composite (status, deptStatus) position of a record. Only the
// reachable pairs have a value, so invalid combinations cannot be expressed.
type State int

const (
	StatePending State = iota + 1
	StateUnassigned
	StateSpam
	StateAssignedNeedsAction
	StateAssignedProposed
	StateAssignedNeedRevision
	StateAssignedApproved
	StateAssignedNoAction
	StateEscalated
	StateEscalatedNeedsAction
	StateEscalatedApproved
	StateEscalatedNoAction
)

type statePair struct {
	status Status
	dept   DeptStatus
}

var statePairs = map[State]statePair{
	StatePending:              {StatusPending, DeptStatusNone},
	StateUnassigned:           {StatusUnassigned, DeptStatusNone},
	StateSpam:                 {StatusSpam, DeptStatusNone},
	StateAssignedNeedsAction:  {StatusAssigned, DeptStatusNeedsAction},
	StateAssignedProposed:     {StatusAssigned, DeptStatusProposed},
	StateAssignedNeedRevision: {StatusAssigned, DeptStatusNeedRevision},
	StateAssignedApproved:     {StatusAssigned, DeptStatusApproved},
	StateAssignedNoAction:     {StatusAssigned, DeptStatusNoActionNeeded},
	StateEscalated:            {StatusEscalated, DeptStatusEscalated},
	StateEscalatedNeedsAction: {StatusEscalated, DeptStatusNeedsAction},
	StateEscalatedApproved:    {StatusEscalated, DeptStatusApproved},
	StateEscalatedNoAction:    {StatusEscalated, DeptStatusNoActionNeeded},
}

// AllStates lists every reachable composite state.
func AllStates() []State {
	out := make([]State, 0, len(statePairs))
	for s := StatePending; s <= StateEscalatedNoAction; s++ {
		out = append(out, s)
	}
	return out
}

// StateFromPair resolves a stored pair into a composite state.
func StateFromPair(status Status, dept DeptStatus) (State, error) {
	for state, pair := range statePairs {
		if pair.status == status && pair.dept == dept {
			return state, nil
		}
	}
	return 0, fmt.Errorf("%w: (%s, %s)", ErrUnknownState, status, deptLabel(dept))
}

// Status returns the intake-stage half.
func (s State) Status() Status { return statePairs[s].status }

// DeptStatus returns the department-stage half.
func (s State) DeptStatus() DeptStatus { return statePairs[s].dept }

// Closed reports whether no further transitions are accepted.
func (s State) Closed() bool {
	switch s {
	case StateAssignedApproved, StateAssignedNoAction, StateEscalatedApproved, StateEscalatedNoAction:
		return true
	}
	return false
}

// ExternallyVisible reports whether role-scoped dashboards watch this state
// through the store's change feed.
func (s State) ExternallyVisible() bool {
	if s.Status() == StatusEscalated {
		return true
	}
	switch s.DeptStatus() {
	case DeptStatusProposed, DeptStatusApproved, DeptStatusNoActionNeeded, DeptStatusNeedRevision:
		return true
	}
	return false
}

func (s State) String() string {
	pair, ok := statePairs[s]
	if !ok {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return fmt.Sprintf("(%s, %s)", pair.status, deptLabel(pair.dept))
}

func deptLabel(d DeptStatus) string {
	if d == DeptStatusNone {
		return "null"
	}
	return string(d)
}

// Transition names a lifecycle step of the review workflow.
type Transition string

const (
	TransitionTagSpam            Transition = "tagSpam"
	TransitionRestore            Transition = "restore"
	TransitionAssignReport       Transition = "assignReport"
	TransitionEscalateToAdmin    Transition = "escalateToAdmin"
	TransitionProposeAction      Transition = "proposeAction"
	TransitionMarkNoAction       Transition = "markNoAction"
	TransitionApprove            Transition = "approve"
	TransitionRequestRevision    Transition = "requestRevision"
	TransitionAssignToDepartment Transition = "assignToDepartment"
	TransitionTakeOwnNoAction    Transition = "takeOwnActionNoAction"
	TransitionTakeOwnApprove     Transition = "takeOwnActionApprove"
)

// AllTransitions lists every transition of the workflow.
func AllTransitions() []Transition {
	return []Transition{
		TransitionTagSpam, TransitionRestore, TransitionAssignReport, TransitionEscalateToAdmin,
		TransitionProposeAction, TransitionMarkNoAction, TransitionApprove, TransitionRequestRevision,
		TransitionAssignToDepartment, TransitionTakeOwnNoAction, TransitionTakeOwnApprove,
	}
}

// Role returns the reviewer role that performs the transition.
func (t Transition) Role() Role {
	switch t {
	case TransitionTagSpam, TransitionRestore, TransitionAssignReport, TransitionEscalateToAdmin:
		return RoleIntake
	case TransitionProposeAction, TransitionMarkNoAction:
		return RoleDepartment
	default:
		return RoleAdmin
	}
}

// AuditAction returns the history action written for the transition.
func (t Transition) AuditAction() AuditAction {
	switch t {
	case TransitionTagSpam:
		return ActionTagSpam
	case TransitionRestore:
		return ActionRestore
	case TransitionAssignReport:
		return ActionAssignReport
	case TransitionEscalateToAdmin:
		return ActionEscalateToAdmin
	case TransitionProposeAction:
		return ActionProposeAction
	case TransitionMarkNoAction:
		return ActionMarkNoAction
	case TransitionApprove:
		return ActionApprove
	case TransitionRequestRevision:
		return ActionRequestRevision
	case TransitionAssignToDepartment:
		return ActionAssignToDepartment
	case TransitionTakeOwnNoAction:
		return ActionTakeOwnNoAction
	case TransitionTakeOwnApprove:
		return ActionTakeOwnApprove
	}
	return AuditAction(t)
}

// Valid reports whether the transition is known.
func (t Transition) Valid() bool {
	for _, candidate := range AllTransitions() {
		if candidate == t {
			return true
		}
	}
	return false
}

// Apply returns the state reached by performing t from s.
func (s State) Apply(t Transition) (State, error) {
	if s.Closed() {
		return s, ErrRecordClosed
	}
	next, ok := s.next(t)
	if !ok {
		return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, s)
	}
	return next, nil
}

func (s State) next(t Transition) (State, bool) {
	switch t {
	case TransitionTagSpam:
		switch s {
		case StatePending, StateUnassigned:
			return StateSpam, true
		}
	case TransitionRestore:
		if s == StateSpam {
			return StateUnassigned, true
		}
	case TransitionAssignReport:
		switch s {
		case StatePending, StateUnassigned:
			return StateAssignedNeedsAction, true
		}
	case TransitionEscalateToAdmin:
		switch s {
		case StatePending, StateUnassigned:
			return StateEscalated, true
		}
	case TransitionProposeAction:
		switch s {
		case StateAssignedNeedsAction, StateAssignedNeedRevision:
			return StateAssignedProposed, true
		}
	case TransitionMarkNoAction:
		switch s {
		case StateAssignedNeedsAction, StateAssignedNeedRevision:
			return StateAssignedNoAction, true
		}
	case TransitionApprove:
		if s == StateAssignedProposed {
			return StateAssignedApproved, true
		}
	case TransitionRequestRevision:
		if s == StateAssignedProposed {
			return StateAssignedNeedRevision, true
		}
	case TransitionAssignToDepartment:
		if s == StateEscalated {
			return StateEscalatedNeedsAction, true
		}
	case TransitionTakeOwnNoAction:
		switch s {
		case StateEscalated, StateEscalatedNeedsAction:
			return StateEscalatedNoAction, true
		}
	case TransitionTakeOwnApprove:
		switch s {
		case StateEscalated, StateEscalatedNeedsAction:
			return StateEscalatedApproved, true
		}
	}
	return 0, false
}
