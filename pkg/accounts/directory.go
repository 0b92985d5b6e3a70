package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/agora-net/agora/pkg/storage"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ClosureCache is an optional second-level (shared) cache for network
// closures, implemented over redis in the postgres storage package.
type ClosureCache interface {
	GetClosure(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, bool, error)
	SetClosure(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) error
	InvalidateClosure(ctx context.Context, accountID uuid.UUID) error
}

// Directory answers the engine's social-graph questions. Closures are served
// from a per-process LRU, then the shared cache when configured, then the
// store.
type Directory struct {
	store   storage.Store
	lru     *lru.Cache[uuid.UUID, []uuid.UUID]
	shared  ClosureCache
	metrics *observability.Metrics
	log     *observability.Logger

	mu    sync.RWMutex
	admin uuid.UUID // administrative community backing the manager role
}

// NewDirectory creates a directory over the store. shared may be nil.
func NewDirectory(store storage.Store, lruSize int, shared ClosureCache, log *observability.Logger, metrics *observability.Metrics) (*Directory, error) {
	if lruSize <= 0 {
		lruSize = 4096
	}
	cache, err := lru.New[uuid.UUID, []uuid.UUID](lruSize)
	if err != nil {
		return nil, fmt.Errorf("creating closure cache: %w", err)
	}
	return &Directory{
		store:   store,
		lru:     cache,
		shared:  shared,
		metrics: metrics,
		log:     log,
	}, nil
}

// SetAdminCommunity designates the community whose manager-flagged members
// satisfy the manager role. Set once at bootstrap.
func (d *Directory) SetAdminCommunity(id uuid.UUID) {
	d.mu.Lock()
	d.admin = id
	d.mu.Unlock()
}

// AdminCommunity returns the designated administrative community id.
func (d *Directory) AdminCommunity() uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.admin
}

// NetworkClosure implements authz.Directory: the account's own id plus every
// account its network relation reaches.
func (d *Directory) NetworkClosure(ctx context.Context, accountID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	if ids, ok := d.lru.Get(accountID); ok {
		if d.metrics != nil {
			d.metrics.ClosureCacheHitsTotal.Inc()
		}
		return toSet(accountID, ids), nil
	}

	if d.shared != nil {
		ids, ok, err := d.shared.GetClosure(ctx, accountID)
		if err != nil && d.log != nil {
			// Cache trouble must not fail authorization; fall through.
			d.log.WithError(err).WithField("account_id", accountID.String()).
				Warn("shared closure cache read failed")
		}
		if ok {
			d.lru.Add(accountID, ids)
			if d.metrics != nil {
				d.metrics.ClosureCacheHitsTotal.Inc()
			}
			return toSet(accountID, ids), nil
		}
	}

	if d.metrics != nil {
		d.metrics.ClosureCacheMissesTotal.Inc()
	}
	ids, err := d.store.NetworkTargets(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading network targets for %s: %w", accountID, err)
	}

	d.lru.Add(accountID, ids)
	if d.shared != nil {
		if err := d.shared.SetClosure(ctx, accountID, ids); err != nil && d.log != nil {
			d.log.WithError(err).WithField("account_id", accountID.String()).
				Warn("shared closure cache write failed")
		}
	}
	return toSet(accountID, ids), nil
}

// IsAdministrator implements authz.Directory: a manager-flagged member of
// the administrative community.
func (d *Directory) IsAdministrator(ctx context.Context, accountID uuid.UUID) (bool, error) {
	admin := d.AdminCommunity()
	if admin == uuid.Nil {
		return false, nil
	}
	m, err := d.store.GetMember(ctx, admin, accountID)
	if errors.Is(err, authz.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading admin membership for %s: %w", accountID, err)
	}
	return m.IsManager, nil
}

// Invalidate drops the cached closure for an account after a link change.
func (d *Directory) Invalidate(ctx context.Context, accountID uuid.UUID) {
	d.lru.Remove(accountID)
	if d.shared != nil {
		if err := d.shared.InvalidateClosure(ctx, accountID); err != nil && d.log != nil {
			d.log.WithError(err).WithField("account_id", accountID.String()).
				Warn("shared closure cache invalidation failed")
		}
	}
}

func toSet(self uuid.UUID, ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids)+1)
	set[self] = struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
