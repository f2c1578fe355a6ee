package auth

// Role constants. Viewer, analyst and admin belong to the analyst realm.
const (
	RoleViewer  = "viewer"
	RoleAnalyst = "analyst"
	RoleAdmin   = "admin"
	RoleService = "service"
)

// AllAnalystRoles returns all valid analyst-realm roles.
func AllAnalystRoles() []string {
	return []string{RoleViewer, RoleAnalyst, RoleAdmin}
}

// ValidAnalystRole reports whether role belongs to the analyst realm.
func ValidAnalystRole(role string) bool {
	for _, r := range AllAnalystRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// ReadRoles returns roles that can read dashboards, events and alerts.
func ReadRoles() []string {
	return []string{RoleViewer, RoleAnalyst, RoleAdmin}
}

// WriteRoles returns roles that can resolve findings and change settings.
func WriteRoles() []string {
	return []string{RoleAnalyst, RoleAdmin}
}

// ReporterRoles returns roles that can report incidents and request analyses.
func ReporterRoles() []string {
	return []string{RoleAnalyst, RoleAdmin, RoleService}
}
