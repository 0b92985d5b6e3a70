// Package storage defines the persistence surface consumed by the
// authorization engine and the domain services, plus an in-memory
// implementation used by tests and development mode. The production
// implementation lives in the postgres subpackage.
package storage

import (
	"context"
	"time"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/google/uuid"
)

// Member is one account's membership in a community.
type Member struct {
	CommunityID uuid.UUID `json:"community_id"`
	AccountID   uuid.UUID `json:"account_id"`
	IsManager   bool      `json:"is_manager"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Profile holds the non-secured attributes of an account entity.
type Profile struct {
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	APIToken  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Body holds the payload of a content entity (post, resource, channel).
type Body struct {
	EntityID uuid.UUID `json:"entity_id"`
	Title    string    `json:"title,omitempty"`
	Text     string    `json:"text,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
}

// ListQuery selects secured entities through a caller filter.
type ListQuery struct {
	// Filter is the secured listing predicate; nil lists nothing.
	Filter *authz.Filter

	// Kinds restricts results to these entity kinds; empty means all.
	Kinds []authz.EntityKind

	// Publisher restricts results to entities published under this account.
	Publisher *uuid.UUID

	Limit  int
	Offset int
}

// Store is the full persistence surface. It embeds the transactional slice
// the secured save protocol needs.
type Store interface {
	authz.LifecycleStore

	// ListEntities returns entities passing the secured filter, newest first.
	ListEntities(ctx context.Context, q ListQuery) ([]*authz.Entity, error)

	// AddNetworkLink records client following target. Idempotent under
	// races: a duplicate link attempt is a no-op, not an error.
	AddNetworkLink(ctx context.Context, client, target uuid.UUID) error

	// RemoveNetworkLink removes a link; removing an absent link is a no-op.
	RemoveNetworkLink(ctx context.Context, client, target uuid.UUID) error

	// NetworkTargets returns the accounts client's network relation reaches.
	NetworkTargets(ctx context.Context, client uuid.UUID) ([]uuid.UUID, error)

	// AddMember records membership, idempotently.
	AddMember(ctx context.Context, community, account uuid.UUID, manager bool) error

	// RemoveMember removes membership; absent membership is a no-op.
	RemoveMember(ctx context.Context, community, account uuid.UUID) error

	// GetMember returns the membership record, authz.ErrNotFound if absent.
	GetMember(ctx context.Context, community, account uuid.UUID) (*Member, error)

	// ListMembers returns a community's members.
	ListMembers(ctx context.Context, community uuid.UUID) ([]*Member, error)

	// SetManager flips the manager flag on an existing membership.
	SetManager(ctx context.Context, community, account uuid.UUID, manager bool) error

	// SaveProfile upserts an account profile.
	SaveProfile(ctx context.Context, p *Profile) error

	// GetProfile returns the profile, authz.ErrNotFound if absent.
	GetProfile(ctx context.Context, accountID uuid.UUID) (*Profile, error)

	// AccountByToken maps an opaque bearer token to an account id,
	// authz.ErrNotFound if the token is unknown.
	AccountByToken(ctx context.Context, token string) (uuid.UUID, error)

	// SaveBody upserts a content body.
	SaveBody(ctx context.Context, b *Body) error

	// GetBody returns the content body, authz.ErrNotFound if absent.
	GetBody(ctx context.Context, entityID uuid.UUID) (*Body, error)

	// WithTx runs fn within one transaction; fn's store view is
	// transactional. Nested calls reuse the surrounding transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	Type string // "memory" or "postgres"

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config (network closure cache)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	ClosureTTL   time.Duration
	ClosureLRU   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          -1,
		CacheEnabled:     true,
		ClosureTTL:       5 * time.Minute,
		ClosureLRU:       4096,
	}
}

// DB adapts a Store to the authz.DB transaction runner.
type DB struct {
	store Store
}

// NewDB wraps a store for use by the secured lifecycle.
func NewDB(s Store) DB {
	return DB{store: s}
}

// WithTx implements authz.DB.
func (d DB) WithTx(ctx context.Context, fn func(authz.LifecycleStore) error) error {
	return d.store.WithTx(ctx, func(tx Store) error {
		return fn(tx)
	})
}
