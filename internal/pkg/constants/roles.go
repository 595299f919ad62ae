package constants

const (
	Superadmin = "superadmin"
	Admin      = "admin"
	Investor   = "investor"
)

// ValidRoles is the set of roles the identity service may put in a session.
var ValidRoles = []string{Investor, Admin, Superadmin}

func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
