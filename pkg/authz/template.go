package authz

import (
	"fmt"
	"sync"
)

// RoleResolver computes a role threshold from the fully-constructed entity at
// save time. Implementations must be pure and must return a canonical role.
type RoleResolver interface {
	// ResolveRole receives the entity being saved and its publisher entity
	// (nil for the root). It may inspect either, e.g. the publisher's kind.
	ResolveRole(e *Entity, publisher *Entity) (Role, error)
}

// PublisherKindRole resolves to one role when the entity's publisher is a
// community and another when it is an individual account.
type PublisherKindRole struct {
	Community  Role
	Individual Role
}

// ResolveRole implements RoleResolver.
func (r PublisherKindRole) ResolveRole(_ *Entity, publisher *Entity) (Role, error) {
	if publisher != nil && publisher.Kind.Info().IsCommunity {
		return r.Community, nil
	}
	return r.Individual, nil
}

// Grant is one template entry: either a static Role or a Resolver strategy.
// Resolver, when non-nil, takes precedence.
type Grant struct {
	Role     Role
	Resolver RoleResolver
}

// Template is a named per-kind permission policy mapping every permission to
// a role threshold.
type Template struct {
	ID          string
	Label       string
	Description string

	// CommunityOnly marks templates that are inapplicable when the owning
	// context (publisher) is an individual account.
	CommunityOnly bool

	Grants map[Permission]Grant
}

// validate checks that the template grants every permission with either a
// canonical static role or a resolver.
func (t *Template) validate() error {
	if t.ID == "" {
		return fmt.Errorf("template id must not be empty")
	}
	for _, p := range Permissions() {
		g, ok := t.Grants[p]
		if !ok {
			return fmt.Errorf("template %q does not grant %q", t.ID, p)
		}
		if g.Resolver == nil && !g.Role.Valid() {
			return fmt.Errorf("template %q grants %q a non-canonical role %q", t.ID, p, g.Role)
		}
	}
	return nil
}

// ApplicableTo reports whether the template may be used under the given
// publisher entity (nil publisher means the root context).
func (t *Template) ApplicableTo(publisher *Entity) bool {
	if !t.CommunityOnly {
		return true
	}
	return publisher != nil && publisher.Kind.Info().IsCommunity
}

// ResolveRoles computes the full role map for an entity under this template,
// invoking resolver strategies where present.
func (t *Template) ResolveRoles(e *Entity, publisher *Entity) (RoleMap, error) {
	roles := make(RoleMap, len(t.Grants))
	for _, p := range Permissions() {
		g := t.Grants[p]
		if g.Resolver == nil {
			roles[p] = g.Role
			continue
		}
		r, err := g.Resolver.ResolveRole(e, publisher)
		if err != nil {
			return nil, fmt.Errorf("resolving role for %q under template %q: %w", p, t.ID, err)
		}
		if !r.Valid() {
			return nil, &IntegrityError{
				EntityID: e.ID,
				Reason:   fmt.Sprintf("resolver for %q under template %q returned non-canonical role %q", p, t.ID, r),
			}
		}
		roles[p] = r
	}
	return roles, nil
}

// Registry holds the ordered template lists per entity kind and each kind's
// designated default. It is constructed once at startup and passed by
// reference; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	byKind   map[EntityKind]map[string]*Template
	order    map[EntityKind][]string
	defaults map[EntityKind]string
}

// NewRegistry returns an empty template registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind:   make(map[EntityKind]map[string]*Template),
		order:    make(map[EntityKind][]string),
		defaults: make(map[EntityKind]string),
	}
}

// Register adds a template to a kind's list. The first template registered
// for a kind becomes its default until SetDefault overrides it. Duplicate
// (kind, id) pairs are rejected.
func (r *Registry) Register(kind EntityKind, t *Template) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	if err := t.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byKind[kind] == nil {
		r.byKind[kind] = make(map[string]*Template)
	}
	if _, exists := r.byKind[kind][t.ID]; exists {
		return fmt.Errorf("template %q already registered for kind %q", t.ID, kind)
	}
	r.byKind[kind][t.ID] = t
	r.order[kind] = append(r.order[kind], t.ID)
	if _, ok := r.defaults[kind]; !ok {
		r.defaults[kind] = t.ID
	}
	return nil
}

// SetDefault designates the default template for a kind.
func (r *Registry) SetDefault(kind EntityKind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKind[kind][id]; !ok {
		return fmt.Errorf("template %q not registered for kind %q", id, kind)
	}
	r.defaults[kind] = id
	return nil
}

// Default returns the designated default template for a kind.
func (r *Registry) Default(kind EntityKind) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.defaults[kind]
	if !ok {
		return nil, fmt.Errorf("no templates registered for kind %q", kind)
	}
	return r.byKind[kind][id], nil
}

// Resolve looks up a template id within a kind's list. An empty id resolves
// to the default. A missing id also resolves to the default, with fallback
// reporting true so the caller can record the recoverable inconsistency.
func (r *Registry) Resolve(kind EntityKind, id string) (t *Template, fallback bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		if t, ok := r.byKind[kind][id]; ok {
			return t, false, nil
		}
	}
	defID, ok := r.defaults[kind]
	if !ok {
		return nil, false, fmt.Errorf("no templates registered for kind %q", kind)
	}
	return r.byKind[kind][defID], id != "", nil
}

// Templates returns a kind's templates in registration order.
func (r *Registry) Templates(kind EntityKind) []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.order[kind]))
	for _, id := range r.order[kind] {
		out = append(out, r.byKind[kind][id])
	}
	return out
}
