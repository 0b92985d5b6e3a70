package authz

import "fmt"

// Role is an ordered capability rank. A caller exercising a permission must
// satisfy the role the entity's template resolved for that permission.
type Role string

const (
	RolePublic  Role = "public"
	RoleNetwork Role = "network"
	RoleManager Role = "manager"
	RoleOwner   Role = "owner"
	RoleSystem  Role = "system"
)

// roleRanks defines the total order Public < Network < Manager < Owner < System.
var roleRanks = map[Role]int{
	RolePublic:  0,
	RoleNetwork: 1,
	RoleManager: 2,
	RoleOwner:   3,
	RoleSystem:  4,
}

// Roles returns all canonical roles in ascending order.
func Roles() []Role {
	return []Role{RolePublic, RoleNetwork, RoleManager, RoleOwner, RoleSystem}
}

// Valid reports whether r is one of the five canonical roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns r's position in the role order. Rank panics on a non-canonical
// role; callers validate at parse/registration time.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		panic(fmt.Sprintf("authz: invalid role %q", string(r)))
	}
	return rank
}

// Less reports whether r is strictly below other in the role order.
func (r Role) Less(other Role) bool {
	return r.Rank() < other.Rank()
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts a stored role string back to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
