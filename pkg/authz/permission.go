package authz

import "fmt"

// Permission is a named capability that can be exercised against an entity.
type Permission string

const (
	PermView        Permission = "view"
	PermEdit        Permission = "edit"
	PermList        Permission = "list"
	PermListMembers Permission = "list_members"
	PermPublish     Permission = "publish"
	PermJoin        Permission = "join"
	PermLeave       Permission = "leave"
	PermCreate      Permission = "create"
	PermDelete      Permission = "delete"
)

// Permissions returns every permission kind. Templates must grant all of them.
func Permissions() []Permission {
	return []Permission{
		PermView, PermEdit, PermList, PermListMembers,
		PermPublish, PermJoin, PermLeave, PermCreate, PermDelete,
	}
}

// Valid reports whether p is a known permission kind.
func (p Permission) Valid() bool {
	switch p {
	case PermView, PermEdit, PermList, PermListMembers,
		PermPublish, PermJoin, PermLeave, PermCreate, PermDelete:
		return true
	}
	return false
}

func (p Permission) String() string {
	return string(p)
}

// RoleMap holds the resolved role threshold for every permission kind. It is
// recomputed from the entity's template on every save and never set directly
// by callers.
type RoleMap map[Permission]Role

// Validate checks that the map covers every permission with a canonical role.
func (m RoleMap) Validate() error {
	for _, p := range Permissions() {
		r, ok := m[p]
		if !ok {
			return fmt.Errorf("resolved roles missing permission %q", p)
		}
		if !r.Valid() {
			return fmt.Errorf("resolved role for %q is not canonical: %q", p, r)
		}
	}
	return nil
}

// Clone returns an independent copy of the map.
func (m RoleMap) Clone() RoleMap {
	out := make(RoleMap, len(m))
	for p, r := range m {
		out[p] = r
	}
	return out
}
