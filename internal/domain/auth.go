package domain

// Role is the reviewer role an authenticated actor acts under.
type Role string

const (
	RoleIntake     Role = "intake"
	RoleDepartment Role = "department"
	RoleAdmin      Role = "admin"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleIntake, RoleDepartment, RoleAdmin:
		return true
	}
	return false
}

// Principal is the caller identity supplied by the credential surface. The
// engine trusts it verbatim.
type Principal struct {
	ActorName  string
	Role       Role
	Department string
}
