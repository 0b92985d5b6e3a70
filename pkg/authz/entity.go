package authz

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind tags the concrete shape of a secured entity. Kind-specific
// behavior is looked up through KindInfo rather than type switches, so stores
// can persist every kind in one table.
type EntityKind string

const (
	KindAccount   EntityKind = "account"
	KindCommunity EntityKind = "community"
	KindPost      EntityKind = "post"
	KindResource  EntityKind = "resource"
	KindChannel   EntityKind = "channel"
)

// KindInfo describes the capabilities of an entity kind.
type KindInfo struct {
	Name string

	// IsAccount marks kinds that participate in the social graph (individual
	// accounts and communities). Account entities can be an access network;
	// content entities only inherit one.
	IsAccount bool

	// IsCommunity marks the community subtype of account.
	IsCommunity bool

	// HasMembers marks kinds with a membership relation.
	HasMembers bool
}

var kindInfos = map[EntityKind]KindInfo{
	KindAccount:   {Name: "account", IsAccount: true},
	KindCommunity: {Name: "community", IsAccount: true, IsCommunity: true, HasMembers: true},
	KindPost:      {Name: "post"},
	KindResource:  {Name: "resource"},
	KindChannel:   {Name: "channel"},
}

// Info returns the behavior table entry for k, the zero value for an
// unknown kind.
func (k EntityKind) Info() KindInfo {
	return kindInfos[k]
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	_, ok := kindInfos[k]
	return ok
}

// IsAccount reports whether k is an account-like kind.
func (k EntityKind) IsAccount() bool {
	return kindInfos[k].IsAccount
}

// Kinds returns every known entity kind.
func Kinds() []EntityKind {
	return []EntityKind{KindAccount, KindCommunity, KindPost, KindResource, KindChannel}
}

// Entity is the shared attribute set every securable object carries.
//
// ResolvedRoles and AccessNetworkID are engine-owned: they are recomputed on
// every save and must never be assigned by callers.
type Entity struct {
	ID   uuid.UUID  `json:"id"`
	Kind EntityKind `json:"kind"`

	// OwnerID references the account that authored/controls the entity.
	OwnerID uuid.UUID `json:"owner_id"`

	// PublisherID references the account context the entity is shown under.
	// Nil only for the single root entity representing "everyone".
	PublisherID *uuid.UUID `json:"publisher_id,omitempty"`

	// TemplateID names the permission template within the kind's list.
	TemplateID string `json:"template_id"`

	// ResolvedRoles maps every permission to its role threshold, recomputed
	// from the template at every save.
	ResolvedRoles RoleMap `json:"resolved_roles"`

	// AccessNetworkID is the denormalized visibility bound: nil for unbounded
	// public or strictly owner-only rows, otherwise the nearest ancestor
	// account whose own list threshold is Owner or Network. A cache, always
	// recomputable; never an ownership relation.
	AccessNetworkID *uuid.UUID `json:"access_network_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether e is the distinguished root entity.
func (e *Entity) IsRoot() bool {
	return e.PublisherID == nil
}

// ListRole returns the resolved threshold for listing. The zero value on a
// not-yet-resolved entity is not canonical; callers run resolution first.
func (e *Entity) ListRole() Role {
	return e.ResolvedRoles[PermList]
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	out := *e
	if e.PublisherID != nil {
		id := *e.PublisherID
		out.PublisherID = &id
	}
	if e.AccessNetworkID != nil {
		id := *e.AccessNetworkID
		out.AccessNetworkID = &id
	}
	out.ResolvedRoles = e.ResolvedRoles.Clone()
	return &out
}
