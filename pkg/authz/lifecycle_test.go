package authz_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-net/agora/pkg/accounts"
	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/storage"
)

// env is a fully-wired engine over the in-memory store.
type env struct {
	store  *storage.Memory
	reg    *authz.Registry
	dir    *accounts.Directory
	sat    *authz.Satisfier
	lc     *authz.Lifecycle
	rootID uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := storage.NewMemory()
	reg := authz.NewRegistry()
	require.NoError(t, authz.RegisterDefaults(reg))

	dir, err := accounts.NewDirectory(store, 64, nil, nil, nil)
	require.NoError(t, err)

	sat := authz.NewSatisfier(dir, nil)
	lc := authz.NewLifecycle(reg, sat, storage.NewDB(store), nil, nil, nil)

	rootID := uuid.New()
	root := &authz.Entity{
		ID:         rootID,
		Kind:       authz.KindAccount,
		OwnerID:    rootID,
		TemplateID: authz.TemplateEveryone,
	}
	require.NoError(t, lc.Save(context.Background(), identity.System(), root))

	return &env{store: store, reg: reg, dir: dir, sat: sat, lc: lc, rootID: rootID}
}

func (v *env) registerAccount(t *testing.T, templateID string) *authz.Entity {
	t.Helper()
	id := uuid.New()
	rootID := v.rootID
	e := &authz.Entity{
		ID:          id,
		Kind:        authz.KindAccount,
		OwnerID:     id,
		PublisherID: &rootID,
		TemplateID:  templateID,
	}
	require.NoError(t, v.lc.Save(context.Background(), identity.Anonymous(), e))
	return e
}

func (v *env) publish(t *testing.T, owner uuid.UUID, wall uuid.UUID, templateID string) *authz.Entity {
	t.Helper()
	wallID := wall
	e := &authz.Entity{
		Kind:        authz.KindPost,
		PublisherID: &wallID,
		TemplateID:  templateID,
	}
	require.NoError(t, v.lc.Save(context.Background(), identity.ForAccount(owner), e))
	return e
}

func TestSaveRootEntity(t *testing.T) {
	v := newEnv(t)

	root, err := v.store.GetEntity(context.Background(), v.rootID)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Nil(t, root.AccessNetworkID, "the root is unbounded public")
	assert.Equal(t, authz.TemplateEveryone, root.TemplateID)
	assert.NoError(t, root.ResolvedRoles.Validate())
}

func TestOnlySystemCreatesRoot(t *testing.T) {
	v := newEnv(t)

	id := uuid.New()
	e := &authz.Entity{ID: id, Kind: authz.KindAccount, OwnerID: id, TemplateID: authz.TemplateEveryone}
	err := v.lc.Save(context.Background(), identity.Anonymous(), e)
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err))
}

func TestSavePublicAccountHasUnboundedVisibility(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	assert.Nil(t, alice.AccessNetworkID,
		"public account under a public root chains to unbounded")
	assert.Equal(t, authz.RolePublic, alice.ListRole())
}

func TestSavePrivateAccountIsItsOwnNetwork(t *testing.T) {
	v := newEnv(t)

	bob := v.registerAccount(t, "private")
	require.NotNil(t, bob.AccessNetworkID)
	assert.Equal(t, bob.ID, *bob.AccessNetworkID,
		"a network-listed account bounds visibility to its own network")
}

func TestPublishOnPrivateWallInheritsTheWall(t *testing.T) {
	v := newEnv(t)

	bob := v.registerAccount(t, "private")
	post := v.publish(t, bob.ID, bob.ID, "public")

	require.NotNil(t, post.AccessNetworkID)
	assert.Equal(t, bob.ID, *post.AccessNetworkID,
		"a public post on a network-bounded wall inherits the wall's network")
}

func TestPublishOnPublicWallIsUnbounded(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	post := v.publish(t, alice.ID, alice.ID, "public")
	assert.Nil(t, post.AccessNetworkID)
}

func TestOwnerOnlyContentHasNoNetwork(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	post := v.publish(t, alice.ID, alice.ID, "private")
	assert.Nil(t, post.AccessNetworkID,
		"owner-listed rows match by owner equality, not network")
	assert.Equal(t, authz.RoleOwner, post.ListRole())
}

func TestTemplateChangeCascadesToDependents(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()

	alice := v.registerAccount(t, "standard")
	post := v.publish(t, alice.ID, alice.ID, "public")
	assert.Nil(t, post.AccessNetworkID)

	// Flip the wall from public to network listing
	alice.TemplateID = "private"
	require.NoError(t, v.lc.Save(ctx, identity.ForAccount(alice.ID), alice))
	require.NotNil(t, alice.AccessNetworkID)
	assert.Equal(t, alice.ID, *alice.AccessNetworkID)

	// The post is repointed in the same save
	got, err := v.store.GetEntity(ctx, post.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AccessNetworkID)
	assert.Equal(t, alice.ID, *got.AccessNetworkID)

	// And back: opening the wall releases the dependents again
	alice.TemplateID = "standard"
	require.NoError(t, v.lc.Save(ctx, identity.ForAccount(alice.ID), alice))
	got, err = v.store.GetEntity(ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AccessNetworkID)
}

func TestSaveIsIdempotent(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()

	bob := v.registerAccount(t, "private")
	before := bob.Clone()

	require.NoError(t, v.lc.Save(ctx, identity.ForAccount(bob.ID), bob))
	assert.Equal(t, before.AccessNetworkID, bob.AccessNetworkID)
	assert.Equal(t, before.ResolvedRoles, bob.ResolvedRoles)
}

func TestExplicitUnknownTemplateFailsValidation(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	alice.TemplateID = "does-not-exist"
	err := v.lc.Save(context.Background(), identity.ForAccount(alice.ID), alice)
	require.Error(t, err)
	assert.True(t, authz.IsValidation(err))
}

func TestCommunityOnlyTemplateRejectedOnIndividualWall(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	aliceID := alice.ID
	e := &authz.Entity{
		Kind:        authz.KindPost,
		PublisherID: &aliceID,
		TemplateID:  "intranet",
	}
	err := v.lc.Save(context.Background(), identity.ForAccount(alice.ID), e)
	require.Error(t, err)
	assert.True(t, authz.IsValidation(err))
}

func TestPublishRequiresWallThreshold(t *testing.T) {
	v := newEnv(t)

	bob := v.registerAccount(t, "private") // wall publish: owner
	stranger := v.registerAccount(t, "standard")

	bobID := bob.ID
	e := &authz.Entity{
		Kind:        authz.KindPost,
		PublisherID: &bobID,
	}
	err := v.lc.Save(context.Background(), identity.ForAccount(stranger.ID), e)
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err))
}

func TestEditRequiresEditThreshold(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	post := v.publish(t, alice.ID, alice.ID, "public")

	intruder := v.registerAccount(t, "standard")
	post.TemplateID = "network"
	err := v.lc.Save(context.Background(), identity.ForAccount(intruder.ID), post)
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err))
}

func TestFailedSaveRollsBackPropagation(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()

	alice := v.registerAccount(t, "standard")
	post := v.publish(t, alice.ID, alice.ID, "public")

	// An explicit bad template fails after nothing was persisted
	alice.TemplateID = "nope"
	require.Error(t, v.lc.Save(ctx, identity.ForAccount(alice.ID), alice))

	got, err := v.store.GetEntity(ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AccessNetworkID, "dependents keep their pre-save state")

	wall, err := v.store.GetEntity(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "standard", wall.TemplateID)
}

func TestDeleteClearsBackReferences(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()

	bob := v.registerAccount(t, "private")
	post := v.publish(t, bob.ID, bob.ID, "public")
	require.NotNil(t, post.AccessNetworkID)

	require.NoError(t, v.lc.Delete(ctx, identity.ForAccount(bob.ID), bob.ID))

	got, err := v.store.GetEntity(ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AccessNetworkID,
		"references to a deleted access network are cleared, not cascaded")
}

func TestDeleteRequiresPermission(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	post := v.publish(t, alice.ID, alice.ID, "public")

	err := v.lc.Delete(context.Background(), identity.ForAccount(uuid.New()), post.ID)
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err))
}

func TestRootIsUndeletable(t *testing.T) {
	v := newEnv(t)

	err := v.lc.Delete(context.Background(), identity.System(), v.rootID)
	require.Error(t, err)
	assert.True(t, authz.IsValidation(err))
}

func TestPublisherCycleIsIntegrityFault(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()

	// Craft a corrupt graph directly in the store: a <-> b publisher cycle,
	// both public-listed.
	roles := make(authz.RoleMap)
	for _, p := range authz.Permissions() {
		roles[p] = authz.RolePublic
	}
	aID, bID := uuid.New(), uuid.New()
	a := &authz.Entity{ID: aID, Kind: authz.KindPost, OwnerID: aID, PublisherID: &bID, TemplateID: "public", ResolvedRoles: roles}
	b := &authz.Entity{ID: bID, Kind: authz.KindPost, OwnerID: bID, PublisherID: &aID, TemplateID: "public", ResolvedRoles: roles}
	require.NoError(t, v.store.SaveEntity(ctx, a))
	require.NoError(t, v.store.SaveEntity(ctx, b))

	prop := authz.NewPropagator(v.store, nil, nil)
	err := prop.Propagate(ctx, a)
	require.Error(t, err)
	assert.True(t, authz.IsIntegrity(err))
}

func TestOwnershipImmutableOnUpdate(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	mallory := v.registerAccount(t, "standard")

	// Attempt to reassign the owner on update
	alice.OwnerID = mallory.ID
	require.NoError(t, v.lc.Save(context.Background(), identity.ForAccount(alice.ID), alice))
	assert.Equal(t, alice.ID, alice.OwnerID, "ownership is restored from the stored row")
}

func TestForeignOwnerRequiresSystem(t *testing.T) {
	v := newEnv(t)

	alice := v.registerAccount(t, "standard")
	aliceID := alice.ID
	e := &authz.Entity{
		Kind:        authz.KindPost,
		OwnerID:     uuid.New(), // someone else
		PublisherID: &aliceID,
	}
	err := v.lc.Save(context.Background(), identity.ForAccount(alice.ID), e)
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err))
}
