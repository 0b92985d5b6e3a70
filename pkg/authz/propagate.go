package authz

import (
	"context"
	"fmt"

	"github.com/agora-net/agora/pkg/observability"
	"github.com/google/uuid"
)

// maxWalkDepth bounds the publisher-chain walk. Chains are shallow in
// practice (root, a wall, content); anything deeper than this is treated as
// a corrupt graph rather than walked forever.
const maxWalkDepth = 64

// PropagationStore is the slice of storage the propagation engine needs. It
// must be transactional with the surrounding save: a failure here aborts the
// whole write.
type PropagationStore interface {
	// GetEntity loads an entity by id, ErrNotFound if absent.
	GetEntity(ctx context.Context, id uuid.UUID) (*Entity, error)

	// SetAccessNetwork updates one entity's access_network_id.
	SetAccessNetwork(ctx context.Context, id uuid.UUID, network *uuid.UUID) error

	// RepointDependents bulk-updates every public-listed entity whose
	// access_network_id or publisher_id equals entityID (excluding the entity
	// itself) to the new network, returning the number of rows changed. Both
	// columns must be matched in the one statement so direct dependents are
	// caught in a single pass.
	RepointDependents(ctx context.Context, entityID uuid.UUID, network *uuid.UUID) (int64, error)
}

// Propagator computes and cascades the access-network denormalization.
type Propagator struct {
	store   PropagationStore
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewPropagator creates a propagation engine over the given store.
func NewPropagator(store PropagationStore, log *observability.Logger, metrics *observability.Metrics) *Propagator {
	return &Propagator{store: store, log: log, metrics: metrics}
}

// Propagate recomputes e's access network from its resolved list threshold
// and repoints direct dependents in one bulk step. e's AccessNetworkID is
// updated in place on success.
//
// The cascade is one-level: dependents of dependents are not re-walked here.
// The bulk repoint matches on both access_network_id and publisher_id, so
// every direct dependent converges in this pass, and later saves of
// intermediate entities re-run the engine for deeper chains.
func (p *Propagator) Propagate(ctx context.Context, e *Entity) error {
	network, depth, err := p.computeAccessNetwork(ctx, e)
	if err != nil {
		return err
	}

	if err := p.store.SetAccessNetwork(ctx, e.ID, network); err != nil {
		return fmt.Errorf("updating access network for %s: %w", e.ID, err)
	}
	e.AccessNetworkID = network

	repointed, err := p.store.RepointDependents(ctx, e.ID, network)
	if err != nil {
		return fmt.Errorf("repointing dependents of %s: %w", e.ID, err)
	}

	if p.metrics != nil {
		p.metrics.ObservePropagation(depth, repointed)
	}
	if repointed > 0 && p.log != nil {
		p.log.WithField("entity_id", e.ID.String()).
			WithField("repointed", repointed).
			Debug("access network cascade applied")
	}
	return nil
}

// computeAccessNetwork resolves the denormalized pointer for e and reports
// how many publisher hops were walked.
func (p *Propagator) computeAccessNetwork(ctx context.Context, e *Entity) (*uuid.UUID, int, error) {
	switch t := e.ListRole(); t {
	case RoleOwner, RoleManager, RoleSystem:
		// Listing is restricted to exact matches (owner, or the privileged
		// filter branches); no network lookup applies.
		return nil, 0, nil

	case RoleNetwork:
		if e.Kind.IsAccount() {
			id := e.ID
			return &id, 0, nil
		}
		if e.PublisherID == nil {
			return nil, 0, &IntegrityError{EntityID: e.ID, Reason: "network-listed non-account entity has no publisher"}
		}
		id := *e.PublisherID
		return &id, 0, nil

	case RolePublic:
		if e.IsRoot() {
			// The root is unbounded public.
			return nil, 0, nil
		}
		return p.walkPublisherChain(ctx, e)

	default:
		return nil, 0, &IntegrityError{
			EntityID: e.ID,
			Reason:   fmt.Sprintf("propagation requested with non-canonical list role %q", t),
		}
	}
}

// walkPublisherChain ascends from e's publisher to the first ancestor whose
// own list threshold is Owner or Network; that ancestor bounds e's
// visibility. Reaching the root means the whole chain is public and the
// visibility is unbounded.
func (p *Propagator) walkPublisherChain(ctx context.Context, e *Entity) (*uuid.UUID, int, error) {
	visited := map[uuid.UUID]struct{}{e.ID: {}}
	cursorID := *e.PublisherID
	depth := 0

	for {
		if _, seen := visited[cursorID]; seen {
			return nil, depth, &IntegrityError{EntityID: e.ID, Reason: "publisher chain contains a cycle"}
		}
		if depth >= maxWalkDepth {
			return nil, depth, &IntegrityError{EntityID: e.ID, Reason: "publisher chain exceeds maximum depth"}
		}
		visited[cursorID] = struct{}{}
		depth++

		cursor, err := p.store.GetEntity(ctx, cursorID)
		if err != nil {
			return nil, depth, fmt.Errorf("walking publisher chain of %s at %s: %w", e.ID, cursorID, err)
		}

		switch cursor.ListRole() {
		case RoleOwner, RoleNetwork:
			id := cursor.ID
			return &id, depth, nil
		case RolePublic:
			if cursor.IsRoot() {
				return nil, depth, nil
			}
			if *cursor.PublisherID == cursor.ID {
				// Self-published outside the root case.
				return nil, depth, &IntegrityError{EntityID: cursor.ID, Reason: "entity is its own publisher"}
			}
			cursorID = *cursor.PublisherID
		default:
			return nil, depth, &IntegrityError{
				EntityID: cursor.ID,
				Reason:   fmt.Sprintf("publisher chain crosses entity with list role %q", cursor.ListRole()),
			}
		}
	}
}
