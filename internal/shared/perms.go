package shared

// Permission names follow the public "category:action" contract, lowercase
// on both sides of a single colon.
const (
	PermUsersRead   = "users:read"
	PermUsersCreate = "users:create"
	PermUsersUpdate = "users:update"
	PermUsersDelete = "users:delete"

	PermRolesRead   = "roles:read"
	PermRolesCreate = "roles:create"
	PermRolesUpdate = "roles:update"
	PermRolesDelete = "roles:delete"

	PermDashboardAccess = "dashboard:access"
	PermSettingsAccess  = "settings:access"
	PermAnalyticsAccess = "analytics:access"

	PermAttendeesRead = "attendees:read"
)

// CorePermissions lists permission names protected from deletion.
func CorePermissions() []string {
	return []string{
		PermDashboardAccess,
		PermAttendeesRead,
		PermRolesRead,
	}
}

// IsCorePermission reports whether name belongs to the protected core set.
func IsCorePermission(name string) bool {
	for _, core := range CorePermissions() {
		if name == core {
			return true
		}
	}
	return false
}
