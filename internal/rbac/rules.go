package rbac

const (
	PermSimulationCreate  = "simulation:create"
	PermSimulationViewOwn = "simulation:view-own"
	PermSimulationViewAll = "simulation:view-all"
	PermUsersBulkUpsert   = "users:bulk_upsert"
	PermUsersList         = "users:list"
	PermChangePassword    = "user:change_password"
)

// Default policy.
var RolePermissions = map[string][]string{
	"student": {
		PermSimulationCreate,
		PermSimulationViewOwn,
		PermChangePassword,
	},
	"admin": {
		"*", // everything
	},
}
