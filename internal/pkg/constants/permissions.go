package constants

const (
	ViewData        = "view_data"
	Borrow          = "borrow"
	ManageRent      = "manage_rent"
	RunDistribution = "run_distribution"
	ResetVault      = "reset_vault"
)

// PermissionRoles maps each permission to the roles allowed to perform it.
var PermissionRoles = map[string][]string{
	ViewData:        {Investor, Admin, Superadmin},
	Borrow:          {Investor, Admin, Superadmin},
	ManageRent:      {Admin, Superadmin},
	RunDistribution: {Admin, Superadmin},
	ResetVault:      {Superadmin},
}

func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
