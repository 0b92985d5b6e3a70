package accounts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/storage"
)

type testEnv struct {
	store  *storage.Memory
	dir    *Directory
	sat    *authz.Satisfier
	svc    *Service
	rootID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemory()
	reg := authz.NewRegistry()
	require.NoError(t, authz.RegisterDefaults(reg))

	dir, err := NewDirectory(store, 64, nil, nil, nil)
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

	return &testEnv{
		store:  store,
		dir:    dir,
		sat:    sat,
		svc:    NewService(store, lc, sat, dir, rootID),
		rootID: rootID,
	}
}

func (v *testEnv) register(t *testing.T, name, templateID string) *Account {
	t.Helper()
	a, err := v.svc.Register(context.Background(), identity.Anonymous(), RegisterRequest{
		Name:       name,
		TemplateID: templateID,
	})
	require.NoError(t, err)
	return a
}

func TestRegisterCreatesSelfOwnedAccount(t *testing.T) {
	v := newTestEnv(t)

	a, err := v.svc.Register(context.Background(), identity.Anonymous(), RegisterRequest{
		Name:     "alice",
		Email:    "alice@example.com",
		APIToken: "tok-alice",
	})
	require.NoError(t, err)

	assert.Equal(t, a.Entity.ID, a.Entity.OwnerID, "an account owns itself")
	require.NotNil(t, a.Entity.PublisherID)
	assert.Equal(t, v.rootID, *a.Entity.PublisherID)
	assert.Equal(t, "standard", a.Entity.TemplateID, "kind default applies")

	got, err := v.store.AccountByToken(context.Background(), "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, a.Entity.ID, got)
}

func TestRegisterRequiresName(t *testing.T) {
	v := newTestEnv(t)

	_, err := v.svc.Register(context.Background(), identity.Anonymous(), RegisterRequest{Name: "  "})
	require.Error(t, err)
	assert.True(t, authz.IsValidation(err))
}

func TestGetEnforcesViewThreshold(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	private := v.register(t, "bob", "private")

	_, err := v.svc.Get(ctx, identity.Anonymous(), private.Entity.ID)
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err))

	got, err := v.svc.Get(ctx, identity.ForAccount(private.Entity.ID), private.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Profile.Name)
}

func TestGetRejectsNonAccountEntity(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	alice := v.register(t, "alice", "")
	post := &authz.Entity{Kind: authz.KindPost, PublisherID: &alice.Entity.ID}
	require.NoError(t, v.svc.lifecycle.Save(ctx, identity.ForAccount(alice.Entity.ID), post))

	_, err := v.svc.Get(ctx, identity.System(), post.ID)
	assert.ErrorIs(t, err, authz.ErrNotFound)
}

func TestFollowExtendsNetworkClosure(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	alice := v.register(t, "alice", "")
	carol := v.register(t, "carol", "")

	require.NoError(t, v.svc.Follow(ctx, identity.ForAccount(alice.Entity.ID), carol.Entity.ID))

	closure, err := v.dir.NetworkClosure(ctx, alice.Entity.ID)
	require.NoError(t, err)
	assert.Contains(t, closure, alice.Entity.ID, "the closure always contains the account itself")
	assert.Contains(t, closure, carol.Entity.ID)

	require.NoError(t, v.svc.Unfollow(ctx, identity.ForAccount(alice.Entity.ID), carol.Entity.ID))
	closure, err = v.dir.NetworkClosure(ctx, alice.Entity.ID)
	require.NoError(t, err)
	assert.NotContains(t, closure, carol.Entity.ID, "unfollow invalidates the cached closure")
}

func TestFollowGatedByJoinThreshold(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	stranger := v.register(t, "stranger", "")
	private := v.register(t, "bob", "private")

	err := v.svc.Follow(ctx, identity.ForAccount(stranger.Entity.ID), private.Entity.ID)
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err), "a private account admits only its network")
}

func TestFollowValidation(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	alice := v.register(t, "alice", "")

	err := v.svc.Follow(ctx, identity.ForAccount(alice.Entity.ID), alice.Entity.ID)
	assert.True(t, authz.IsValidation(err), "self-follow is rejected")

	err = v.svc.Follow(ctx, identity.Anonymous(), alice.Entity.ID)
	assert.True(t, authz.IsDenial(err), "anonymous callers cannot follow")

	post := &authz.Entity{Kind: authz.KindPost, PublisherID: &alice.Entity.ID}
	require.NoError(t, v.svc.lifecycle.Save(ctx, identity.ForAccount(alice.Entity.ID), post))
	err = v.svc.Follow(ctx, identity.ForAccount(alice.Entity.ID), post.ID)
	assert.True(t, authz.IsValidation(err), "only accounts can be followed")
}

func TestListFiltersByCaller(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	public := v.register(t, "alice", "standard")
	private := v.register(t, "bob", "private")

	out, err := v.svc.List(ctx, identity.Anonymous(), 50, 0)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool, len(out))
	for _, e := range out {
		ids[e.ID] = true
	}
	assert.True(t, ids[public.Entity.ID])
	assert.True(t, ids[v.rootID])
	assert.False(t, ids[private.Entity.ID], "private accounts are invisible to anonymous listings")

	out, err = v.svc.List(ctx, identity.ForAccount(private.Entity.ID), 50, 0)
	require.NoError(t, err)
	ids = make(map[uuid.UUID]bool, len(out))
	for _, e := range out {
		ids[e.ID] = true
	}
	assert.True(t, ids[private.Entity.ID], "an account always lists itself")
}

func TestUpdateTemplateRecomputesVisibility(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	alice := v.register(t, "alice", "standard")
	assert.Nil(t, alice.Entity.AccessNetworkID)

	updated, err := v.svc.Update(ctx, identity.ForAccount(alice.Entity.ID), alice.Entity.ID, "private")
	require.NoError(t, err)
	require.NotNil(t, updated.AccessNetworkID)
	assert.Equal(t, alice.Entity.ID, *updated.AccessNetworkID)
}

func TestUpdateRequiresEditThreshold(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	alice := v.register(t, "alice", "")
	mallory := v.register(t, "mallory", "")

	_, err := v.svc.Update(ctx, identity.ForAccount(mallory.Entity.ID), alice.Entity.ID, "private")
	require.Error(t, err)
	assert.True(t, authz.IsDenial(err))
}

func TestDeleteAccount(t *testing.T) {
	v := newTestEnv(t)
	ctx := context.Background()

	alice := v.register(t, "alice", "")
	require.NoError(t, v.svc.Delete(ctx, identity.ForAccount(alice.Entity.ID), alice.Entity.ID))

	_, err := v.store.GetEntity(ctx, alice.Entity.ID)
	assert.ErrorIs(t, err, authz.ErrNotFound)
}
