// Package bootstrap performs first-run initialization under the system
// identity: the default template set, the root "everyone" entity, and the
// administrative community. Safe to run on every startup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agora-net/agora/pkg/accounts"
	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/agora-net/agora/pkg/storage"
	"github.com/google/uuid"
)

// Well-known ids, derived deterministically so bootstrap is idempotent
// across restarts and nodes.
var (
	RootID           = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:agora:root"))
	AdminCommunityID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:agora:administrators"))
)

// Result reports the well-known entities after bootstrap.
type Result struct {
	RootID           uuid.UUID
	AdminCommunityID uuid.UUID
}

// Run registers default templates and ensures the root entity and
// administrative community exist, then designates the admin community on
// the directory.
func Run(ctx context.Context, store storage.Store, reg *authz.Registry, lc *authz.Lifecycle, dir *accounts.Directory, log *observability.Logger) (Result, error) {
	if err := authz.RegisterDefaults(reg); err != nil {
		return Result{}, fmt.Errorf("registering default templates: %w", err)
	}

	system := identity.System()

	if err := ensureRoot(ctx, store, lc, system, log); err != nil {
		return Result{}, err
	}
	if err := ensureAdminCommunity(ctx, store, lc, system, log); err != nil {
		return Result{}, err
	}

	dir.SetAdminCommunity(AdminCommunityID)
	return Result{RootID: RootID, AdminCommunityID: AdminCommunityID}, nil
}

func ensureRoot(ctx context.Context, store storage.Store, lc *authz.Lifecycle, system identity.Identity, log *observability.Logger) error {
	_, err := store.GetEntity(ctx, RootID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, authz.ErrNotFound) {
		return fmt.Errorf("checking root entity: %w", err)
	}

	e := &authz.Entity{
		ID:         RootID,
		Kind:       authz.KindAccount,
		OwnerID:    RootID,
		TemplateID: authz.TemplateEveryone,
	}
	if err := lc.Save(ctx, system, e); err != nil {
		return fmt.Errorf("creating root entity: %w", err)
	}

	now := time.Now().UTC()
	if err := store.SaveProfile(ctx, &storage.Profile{
		AccountID: RootID,
		Name:      "Everyone",
		Bio:       "The whole network.",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("saving root profile: %w", err)
	}

	if log != nil {
		log.WithField("entity_id", RootID.String()).Info("created root entity")
	}
	return nil
}

func ensureAdminCommunity(ctx context.Context, store storage.Store, lc *authz.Lifecycle, system identity.Identity, log *observability.Logger) error {
	_, err := store.GetEntity(ctx, AdminCommunityID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, authz.ErrNotFound) {
		return fmt.Errorf("checking admin community: %w", err)
	}

	rootID := RootID
	e := &authz.Entity{
		ID:          AdminCommunityID,
		Kind:        authz.KindCommunity,
		OwnerID:     RootID,
		PublisherID: &rootID,
		TemplateID:  "administrators",
	}
	if err := lc.Save(ctx, system, e); err != nil {
		return fmt.Errorf("creating admin community: %w", err)
	}

	now := time.Now().UTC()
	if err := store.SaveProfile(ctx, &storage.Profile{
		AccountID: AdminCommunityID,
		Name:      "Administrators",
		Bio:       "Site administration.",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("saving admin community profile: %w", err)
	}

	if log != nil {
		log.WithField("entity_id", AdminCommunityID.String()).Info("created administrative community")
	}
	return nil
}

// GrantAdministrator adds an account to the administrative community with
// the manager flag, making it satisfy the manager role.
func GrantAdministrator(ctx context.Context, store storage.Store, accountID uuid.UUID) error {
	if err := store.AddMember(ctx, AdminCommunityID, accountID, true); err != nil {
		return fmt.Errorf("granting administrator to %s: %w", accountID, err)
	}
	return nil
}
