package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/google/uuid"
)

// LifecycleStore is the transactional storage surface the secured save needs.
type LifecycleStore interface {
	PropagationStore

	// SaveEntity inserts or updates the entity's base fields.
	SaveEntity(ctx context.Context, e *Entity) error

	// DeleteEntity removes the entity row.
	DeleteEntity(ctx context.Context, id uuid.UUID) error

	// ClearAccessNetworkRefs nulls access_network_id on every entity that
	// references id, returning the number of rows cleared. Used on delete;
	// back-references are cleared, never cascade-deleted.
	ClearAccessNetworkRefs(ctx context.Context, id uuid.UUID) (int64, error)
}

// DB runs a function within one storage transaction. If the function returns
// an error the transaction rolls back, leaving no partially-applied
// access-network state.
type DB interface {
	WithTx(ctx context.Context, fn func(LifecycleStore) error) error
}

// EventSink receives post-save notifications. Delivery happens after the
// transaction commits and must not block the caller.
type EventSink interface {
	EntitySaved(ctx context.Context, e *Entity, created bool)
	EntityDeleted(ctx context.Context, id uuid.UUID, kind EntityKind)
}

// Lifecycle executes the secured save and delete protocols around every
// entity mutation.
type Lifecycle struct {
	reg     *Registry
	sat     *Satisfier
	db      DB
	events  EventSink
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewLifecycle wires the secured entity lifecycle. events may be nil.
func NewLifecycle(reg *Registry, sat *Satisfier, db DB, events EventSink, log *observability.Logger, metrics *observability.Metrics) *Lifecycle {
	return &Lifecycle{reg: reg, sat: sat, db: db, events: events, log: log, metrics: metrics}
}

// Save creates or updates a secured entity on behalf of caller:
//
//  1. permission check (edit on the entity, or publish/create on the
//     intended publisher),
//  2. owner/publisher defaulting from the caller identity,
//  3. template resolution and applicability validation,
//  4. role recomputation for every permission kind,
//  5. persistence of base fields,
//  6. access-network propagation,
//  7. post-save event emission (after commit).
//
// All of 1–6 run in one transaction; any failure rolls the write back.
func (l *Lifecycle) Save(ctx context.Context, caller identity.Identity, e *Entity) error {
	if e == nil {
		return &ValidationError{Field: "entity", Reason: "must not be nil"}
	}
	if !e.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", e.Kind)}
	}

	var created bool
	err := l.db.WithTx(ctx, func(st LifecycleStore) error {
		existing, err := l.loadExisting(ctx, st, e.ID)
		if err != nil {
			return err
		}
		created = existing == nil

		if created {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			if err := l.defaultOwnership(caller, e); err != nil {
				return err
			}
		} else {
			// Identity, kind and ownership are immutable on update.
			e.Kind = existing.Kind
			e.OwnerID = existing.OwnerID
			e.PublisherID = existing.PublisherID
			e.CreatedAt = existing.CreatedAt
		}

		publisher, err := l.loadPublisher(ctx, st, e)
		if err != nil {
			return err
		}

		if err := l.checkWritePermission(ctx, caller, e, existing, publisher); err != nil {
			if IsDenial(err) && l.metrics != nil {
				op := PermEdit
				if created {
					op = PermPublish
				}
				l.metrics.ObserveDenial(string(op))
			}
			return err
		}

		explicit := e.TemplateID != "" && (created || existing.TemplateID != e.TemplateID)
		tmpl, err := l.resolveTemplate(e, publisher, explicit)
		if err != nil {
			return err
		}
		e.TemplateID = tmpl.ID

		roles, err := tmpl.ResolveRoles(e, publisher)
		if err != nil {
			return err
		}
		if err := roles.Validate(); err != nil {
			return &IntegrityError{EntityID: e.ID, Reason: err.Error()}
		}
		e.ResolvedRoles = roles

		now := time.Now().UTC()
		if created {
			e.CreatedAt = now
		}
		e.UpdatedAt = now

		if err := st.SaveEntity(ctx, e); err != nil {
			return fmt.Errorf("persisting entity %s: %w", e.ID, err)
		}

		prop := NewPropagator(st, l.log, l.metrics)
		return prop.Propagate(ctx, e)
	})
	if err != nil {
		return err
	}

	if l.events != nil {
		l.events.EntitySaved(ctx, e, created)
	}
	return nil
}

// Delete removes a secured entity. Requires the delete permission; clears
// (never cascades) access-network back-references to the deleted row.
func (l *Lifecycle) Delete(ctx context.Context, caller identity.Identity, id uuid.UUID) error {
	var kind EntityKind
	err := l.db.WithTx(ctx, func(st LifecycleStore) error {
		e, err := st.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if e.IsRoot() {
			return &ValidationError{Field: "entity", Reason: "the root entity cannot be deleted"}
		}
		if err := l.sat.Require(ctx, caller, PermDelete, e); err != nil {
			if IsDenial(err) && l.metrics != nil {
				l.metrics.ObserveDenial(string(PermDelete))
			}
			return err
		}
		kind = e.Kind

		cleared, err := st.ClearAccessNetworkRefs(ctx, id)
		if err != nil {
			return fmt.Errorf("clearing access network references to %s: %w", id, err)
		}
		if cleared > 0 && l.log != nil {
			l.log.WithField("entity_id", id.String()).
				WithField("cleared", cleared).
				Warn("deleted entity was an access network; dependent rows reset to unbounded until next save")
		}
		return st.DeleteEntity(ctx, id)
	})
	if err != nil {
		return err
	}

	if l.events != nil {
		l.events.EntityDeleted(ctx, id, kind)
	}
	return nil
}

func (l *Lifecycle) loadExisting(ctx context.Context, st LifecycleStore, id uuid.UUID) (*Entity, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	e, err := st.GetEntity(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// defaultOwnership fills owner and publisher from the caller. An explicit
// owner different from the caller requires the System identity, except for
// self-owned account entities (an account owns itself at registration).
func (l *Lifecycle) defaultOwnership(caller identity.Identity, e *Entity) error {
	if e.OwnerID == uuid.Nil {
		if caller.IsAccount() {
			e.OwnerID = caller.AccountID
		} else if e.Kind.IsAccount() {
			e.OwnerID = e.ID
		} else {
			return &ValidationError{Field: "owner_id", Reason: "owner required"}
		}
	} else if !caller.IsSystem() {
		selfOwned := e.Kind.IsAccount() && e.OwnerID == e.ID
		callerOwned := caller.IsAccount() && e.OwnerID == caller.AccountID
		if !selfOwned && !callerOwned {
			return &DenialError{Op: PermCreate, EntityID: e.ID, Required: RoleSystem}
		}
	}

	if e.PublisherID == nil && caller.IsAccount() {
		pid := caller.AccountID
		e.PublisherID = &pid
	}
	return nil
}

// loadPublisher fetches e's publisher entity; nil for the root.
func (l *Lifecycle) loadPublisher(ctx context.Context, st LifecycleStore, e *Entity) (*Entity, error) {
	if e.PublisherID == nil {
		return nil, nil
	}
	if *e.PublisherID == e.ID {
		return e, nil
	}
	pub, err := st.GetEntity(ctx, *e.PublisherID)
	if errors.Is(err, ErrNotFound) {
		return nil, &ValidationError{Field: "publisher_id", Reason: "publisher does not exist"}
	}
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// checkWritePermission enforces edit on updates, and publish/create on the
// intended publisher for creations. Only the System identity may create the
// root (publisher-less) entity.
func (l *Lifecycle) checkWritePermission(ctx context.Context, caller identity.Identity, e, existing, publisher *Entity) error {
	if existing != nil {
		return l.sat.Require(ctx, caller, PermEdit, existing)
	}

	if publisher == nil || publisher == e {
		if !caller.IsSystem() {
			return &DenialError{Op: PermCreate, EntityID: e.ID, Required: RoleSystem}
		}
		return nil
	}

	op := PermPublish
	if e.Kind.IsAccount() {
		op = PermCreate
	}
	return l.sat.Require(ctx, caller, op, publisher)
}

// resolveTemplate resolves the entity's template id against the registry.
// An id the caller explicitly submitted must resolve and be applicable, or
// the save fails validation. A dangling id already stored on the row falls
// back to the kind default and is logged as a recoverable inconsistency.
func (l *Lifecycle) resolveTemplate(e *Entity, publisher *Entity, explicit bool) (*Template, error) {
	tmpl, fellBack, err := l.reg.Resolve(e.Kind, e.TemplateID)
	if err != nil {
		return nil, &IntegrityError{EntityID: e.ID, Reason: err.Error()}
	}

	if fellBack {
		if explicit {
			return nil, &ValidationError{
				Field:  "template_id",
				Reason: fmt.Sprintf("template %q is not registered for kind %q", e.TemplateID, e.Kind),
			}
		}
		if l.log != nil {
			l.log.WithField("entity_id", e.ID.String()).
				WithField("template_id", e.TemplateID).
				WithField("fallback", tmpl.ID).
				Warn("stored template id no longer resolves; substituted kind default")
		}
	}

	if !tmpl.ApplicableTo(publisher) {
		if explicit || fellBack {
			return nil, &ValidationError{
				Field:  "template_id",
				Reason: fmt.Sprintf("template %q is not applicable under this publisher", tmpl.ID),
			}
		}
		def, derr := l.reg.Default(e.Kind)
		if derr != nil || !def.ApplicableTo(publisher) {
			return nil, &IntegrityError{EntityID: e.ID, Reason: "no applicable template for entity's owning context"}
		}
		if l.log != nil {
			l.log.WithField("entity_id", e.ID.String()).
				WithField("template_id", tmpl.ID).
				WithField("fallback", def.ID).
				Warn("stored template inapplicable to owning context; substituted kind default")
		}
		tmpl = def
	}
	return tmpl, nil
}
