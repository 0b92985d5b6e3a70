// Package accounts manages account entities and the network relation that
// defines each identity's visibility radius.
package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/storage"
	"github.com/google/uuid"
)

// Account is an account entity together with its profile.
type Account struct {
	Entity  *authz.Entity    `json:"entity"`
	Profile *storage.Profile `json:"profile"`
}

// RegisterRequest is the input to account registration.
type RegisterRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Bio        string `json:"bio,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	APIToken   string `json:"api_token,omitempty"`
}

// Service implements account operations over the secured lifecycle.
type Service struct {
	store     storage.Store
	lifecycle *authz.Lifecycle
	sat       *authz.Satisfier
	dir       *Directory
	rootID    uuid.UUID
}

// NewService wires the account service. rootID is the root entity every
// account is published under.
func NewService(store storage.Store, lc *authz.Lifecycle, sat *authz.Satisfier, dir *Directory, rootID uuid.UUID) *Service {
	return &Service{store: store, lifecycle: lc, sat: sat, dir: dir, rootID: rootID}
}

// Register creates a new self-owned account under the root context. Open to
// any caller the root's create threshold admits (public by default).
func (s *Service) Register(ctx context.Context, caller identity.Identity, req RegisterRequest) (*Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &authz.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	id := uuid.New()
	rootID := s.rootID
	e := &authz.Entity{
		ID:          id,
		Kind:        authz.KindAccount,
		OwnerID:     id, // an account owns itself
		PublisherID: &rootID,
		TemplateID:  req.TemplateID,
	}
	if err := s.lifecycle.Save(ctx, caller, e); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &storage.Profile{
		AccountID: id,
		Name:      name,
		Email:     req.Email,
		Bio:       req.Bio,
		APIToken:  req.APIToken,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("saving profile for %s: %w", id, err)
	}
	return &Account{Entity: e, Profile: p}, nil
}

// Get returns an account the caller may view.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id uuid.UUID) (*Account, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Kind.IsAccount() {
		return nil, authz.ErrNotFound
	}
	if err := s.sat.Require(ctx, caller, authz.PermView, e); err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Account{Entity: e, Profile: p}, nil
}

// List returns the accounts and communities the caller may list.
func (s *Service) List(ctx context.Context, caller identity.Identity, limit, offset int) ([]*authz.Entity, error) {
	f, err := s.sat.ListFilter(ctx, caller)
	if err != nil {
		return nil, err
	}
	return s.store.ListEntities(ctx, storage.ListQuery{
		Filter: f,
		Kinds:  []authz.EntityKind{authz.KindAccount, authz.KindCommunity},
		Limit:  limit,
		Offset: offset,
	})
}

// Update re-runs the secured save on an account, e.g. after a template
// change. Only fields the lifecycle allows to change are applied.
func (s *Service) Update(ctx context.Context, caller identity.Identity, id uuid.UUID, templateID string) (*authz.Entity, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Kind.IsAccount() {
		return nil, authz.ErrNotFound
	}
	if templateID != "" {
		e.TemplateID = templateID
	}
	if err := s.lifecycle.Save(ctx, caller, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Follow adds target to the caller's network. Idempotent under concurrent
// duplicate attempts. The target must admit the caller per its join
// threshold.
func (s *Service) Follow(ctx context.Context, caller identity.Identity, target uuid.UUID) error {
	if !caller.IsAccount() {
		return &authz.DenialError{Op: authz.PermJoin, EntityID: target, Required: authz.RoleNetwork}
	}
	if caller.AccountID == target {
		return &authz.ValidationError{Field: "target", Reason: "cannot follow yourself"}
	}

	e, err := s.store.GetEntity(ctx, target)
	if err != nil {
		return err
	}
	if !e.Kind.IsAccount() {
		return &authz.ValidationError{Field: "target", Reason: "not an account"}
	}
	if err := s.sat.Require(ctx, caller, authz.PermJoin, e); err != nil {
		return err
	}

	if err := s.store.AddNetworkLink(ctx, caller.AccountID, target); err != nil {
		return fmt.Errorf("adding network link: %w", err)
	}
	s.dir.Invalidate(ctx, caller.AccountID)
	return nil
}

// Unfollow removes target from the caller's network; removing an absent
// link is a no-op.
func (s *Service) Unfollow(ctx context.Context, caller identity.Identity, target uuid.UUID) error {
	if !caller.IsAccount() {
		return &authz.DenialError{Op: authz.PermLeave, EntityID: target, Required: authz.RoleNetwork}
	}
	if err := s.store.RemoveNetworkLink(ctx, caller.AccountID, target); err != nil {
		return fmt.Errorf("removing network link: %w", err)
	}
	s.dir.Invalidate(ctx, caller.AccountID)
	return nil
}

// Delete removes an account entity through the secured lifecycle.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id uuid.UUID) error {
	return s.lifecycle.Delete(ctx, caller, id)
}
