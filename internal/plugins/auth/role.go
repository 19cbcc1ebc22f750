package auth

import "fmt"

// Role is the closed set of authorization levels. The string values are
// stored in users.role and embedded in identity tokens.
type Role string

const (
	// RoleUser is the default role for every new account.
	RoleUser Role = "User"

	// RoleAdmin may manage any account.
	RoleAdmin Role = "Admin"
)

// AllRoles returns every declared role.
func AllRoles() []Role {
	return []Role{RoleUser, RoleAdmin}
}

// IsValid reports whether r is one of the declared roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts a stored or submitted string into a Role. Matching is
// exact: "admin" is not "Admin".
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// roleIn reports whether r appears in allowed.
func roleIn(r Role, allowed []Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}
