package auth

const (
	PermAccountRead  = "account.read"
	PermAccountWrite = "account.write"
)

// RoleAccountAdmin is the built-in role holding every account permission.
const RoleAccountAdmin = "account.admin"

var BuiltinPermissions = []Permission{
	{Name: PermAccountRead, DisplayName: "Account Read", Scope: ScopeRead, Active: true},
	{Name: PermAccountWrite, DisplayName: "Account Write", Scope: ScopeWrite, Active: true},
}
