// Package communities manages community entities and their membership
// relation, which is distinct from the generic network relation: membership
// carries a manager flag and backs join/leave semantics.
package communities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agora-net/agora/pkg/accounts"
	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/storage"
	"github.com/google/uuid"
)

// CreateRequest is the input to community creation.
type CreateRequest struct {
	Name       string `json:"name"`
	Bio        string `json:"bio,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

// Community is a community entity with its profile.
type Community struct {
	Entity  *authz.Entity    `json:"entity"`
	Profile *storage.Profile `json:"profile"`
}

// Service implements community operations over the secured lifecycle.
type Service struct {
	store     storage.Store
	lifecycle *authz.Lifecycle
	sat       *authz.Satisfier
	dir       *accounts.Directory
	rootID    uuid.UUID
}

// NewService wires the community service.
func NewService(store storage.Store, lc *authz.Lifecycle, sat *authz.Satisfier, dir *accounts.Directory, rootID uuid.UUID) *Service {
	return &Service{store: store, lifecycle: lc, sat: sat, dir: dir, rootID: rootID}
}

// Create makes a new community under the root context, owned by the caller,
// who becomes its first manager-flagged member.
func (s *Service) Create(ctx context.Context, caller identity.Identity, req CreateRequest) (*Community, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &authz.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !caller.IsAccount() && !caller.IsSystem() {
		return nil, &authz.DenialError{Op: authz.PermCreate, EntityID: s.rootID, Required: authz.RoleNetwork}
	}

	rootID := s.rootID
	e := &authz.Entity{
		Kind:        authz.KindCommunity,
		PublisherID: &rootID,
		TemplateID:  req.TemplateID,
	}
	if err := s.lifecycle.Save(ctx, caller, e); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &storage.Profile{
		AccountID: e.ID,
		Name:      name,
		Bio:       req.Bio,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("saving community profile for %s: %w", e.ID, err)
	}

	if caller.IsAccount() {
		if err := s.store.AddMember(ctx, e.ID, caller.AccountID, true); err != nil {
			return nil, fmt.Errorf("adding creator membership: %w", err)
		}
	}
	return &Community{Entity: e, Profile: p}, nil
}

// Get returns a community the caller may view.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id uuid.UUID) (*Community, error) {
	e, err := s.loadCommunity(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.sat.Require(ctx, caller, authz.PermView, e); err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Community{Entity: e, Profile: p}, nil
}

// Join adds the caller to the community's membership. Gated by the
// community's join threshold; idempotent under concurrent duplicates.
func (s *Service) Join(ctx context.Context, caller identity.Identity, id uuid.UUID) error {
	if !caller.IsAccount() {
		return &authz.DenialError{Op: authz.PermJoin, EntityID: id, Required: authz.RoleNetwork}
	}
	e, err := s.loadCommunity(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sat.Require(ctx, caller, authz.PermJoin, e); err != nil {
		return err
	}
	if err := s.store.AddMember(ctx, id, caller.AccountID, false); err != nil {
		return fmt.Errorf("adding membership: %w", err)
	}
	// Membership implies a network link to the community, so community-scoped
	// content becomes listable for the new member.
	if err := s.store.AddNetworkLink(ctx, caller.AccountID, id); err != nil {
		return fmt.Errorf("adding member network link: %w", err)
	}
	s.dir.Invalidate(ctx, caller.AccountID)
	return nil
}

// Leave removes the caller's membership. Gated by the leave threshold.
func (s *Service) Leave(ctx context.Context, caller identity.Identity, id uuid.UUID) error {
	if !caller.IsAccount() {
		return &authz.DenialError{Op: authz.PermLeave, EntityID: id, Required: authz.RoleNetwork}
	}
	e, err := s.loadCommunity(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sat.Require(ctx, caller, authz.PermLeave, e); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, id, caller.AccountID); err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}
	if err := s.store.RemoveNetworkLink(ctx, caller.AccountID, id); err != nil {
		return fmt.Errorf("removing member network link: %w", err)
	}
	s.dir.Invalidate(ctx, caller.AccountID)
	return nil
}

// Members lists a community's membership, gated by the list-members
// threshold.
func (s *Service) Members(ctx context.Context, caller identity.Identity, id uuid.UUID) ([]*storage.Member, error) {
	e, err := s.loadCommunity(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.sat.Require(ctx, caller, authz.PermListMembers, e); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, id)
}

// SetManager flips the manager flag on a member. Requires edit on the
// community.
func (s *Service) SetManager(ctx context.Context, caller identity.Identity, id, account uuid.UUID, manager bool) error {
	e, err := s.loadCommunity(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sat.Require(ctx, caller, authz.PermEdit, e); err != nil {
		return err
	}
	if err := s.store.SetManager(ctx, id, account, manager); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return &authz.ValidationError{Field: "account", Reason: "not a member"}
		}
		return err
	}
	return nil
}

// Update re-runs the secured save, e.g. for a template change. Scenario:
// switching a community from public to network listing cascades its
// dependents' access networks in the same save.
func (s *Service) Update(ctx context.Context, caller identity.Identity, id uuid.UUID, templateID string) (*authz.Entity, error) {
	e, err := s.loadCommunity(ctx, id)
	if err != nil {
		return nil, err
	}
	if templateID != "" {
		e.TemplateID = templateID
	}
	if err := s.lifecycle.Save(ctx, caller, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes a community through the secured lifecycle.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id uuid.UUID) error {
	return s.lifecycle.Delete(ctx, caller, id)
}

func (s *Service) loadCommunity(ctx context.Context, id uuid.UUID) (*authz.Entity, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Kind != authz.KindCommunity {
		return nil, authz.ErrNotFound
	}
	return e, nil
}
