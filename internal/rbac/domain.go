package rbac

// Roles recognised by the application.
const (
	RoleAdmin = "admin"
	RoleEntry = "entry"
	RoleExit  = "exit"
	RoleUser  = "user"
)

// ValidRoles lists assignable roles in display order.
var ValidRoles = []string{RoleAdmin, RoleEntry, RoleExit, RoleUser}

// IsValidRole reports whether the role is assignable.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
