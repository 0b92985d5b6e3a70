package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-net/agora/pkg/identity"
)

// fakeDirectory is a canned social graph for satisfaction tests.
type fakeDirectory struct {
	closures map[uuid.UUID]map[uuid.UUID]struct{}
	admins   map[uuid.UUID]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		closures: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		admins:   make(map[uuid.UUID]bool),
	}
}

func (d *fakeDirectory) follow(client, target uuid.UUID) {
	if d.closures[client] == nil {
		d.closures[client] = map[uuid.UUID]struct{}{client: {}}
	}
	d.closures[client][target] = struct{}{}
}

func (d *fakeDirectory) NetworkClosure(_ context.Context, accountID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	if c, ok := d.closures[accountID]; ok {
		return c, nil
	}
	return map[uuid.UUID]struct{}{accountID: {}}, nil
}

func (d *fakeDirectory) IsAdministrator(_ context.Context, accountID uuid.UUID) (bool, error) {
	return d.admins[accountID], nil
}

func fullRoles(role Role) RoleMap {
	m := make(RoleMap)
	for _, p := range Permissions() {
		m[p] = role
	}
	return m
}

func TestSatisfiesSystem(t *testing.T) {
	sat := NewSatisfier(newFakeDirectory(), nil)
	e := &Entity{ID: uuid.New(), Kind: KindPost, OwnerID: uuid.New()}

	ok, err := sat.Satisfies(context.Background(), identity.System(), RoleSystem, e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sat.Satisfies(context.Background(), identity.ForAccount(uuid.New()), RoleSystem, e)
	require.NoError(t, err)
	assert.False(t, ok)

	// System satisfies every lower role too
	for _, r := range Roles() {
		ok, err := sat.Satisfies(context.Background(), identity.System(), r, e)
		require.NoError(t, err)
		assert.True(t, ok, "system should satisfy %s", r)
	}
}

func TestSatisfiesOwner(t *testing.T) {
	sat := NewSatisfier(newFakeDirectory(), nil)
	owner := uuid.New()
	e := &Entity{ID: uuid.New(), Kind: KindPost, OwnerID: owner}

	ok, err := sat.Satisfies(context.Background(), identity.ForAccount(owner), RoleOwner, e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sat.Satisfies(context.Background(), identity.ForAccount(uuid.New()), RoleOwner, e)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sat.Satisfies(context.Background(), identity.Anonymous(), RoleOwner, e)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSatisfiesOwnAccountEntity(t *testing.T) {
	sat := NewSatisfier(newFakeDirectory(), nil)
	accountID := uuid.New()
	// The account entity itself, owned by someone else (e.g. system-created)
	e := &Entity{ID: accountID, Kind: KindAccount, OwnerID: uuid.New()}

	ok, err := sat.Satisfies(context.Background(), identity.ForAccount(accountID), RoleOwner, e)
	require.NoError(t, err)
	assert.True(t, ok, "a caller satisfies owner on its own account entity")
}

func TestSatisfiesManager(t *testing.T) {
	dir := newFakeDirectory()
	admin := uuid.New()
	dir.admins[admin] = true
	sat := NewSatisfier(dir, nil)

	e := &Entity{ID: uuid.New(), Kind: KindCommunity, OwnerID: uuid.New()}

	ok, err := sat.Satisfies(context.Background(), identity.ForAccount(admin), RoleManager, e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sat.Satisfies(context.Background(), identity.ForAccount(uuid.New()), RoleManager, e)
	require.NoError(t, err)
	assert.False(t, ok)

	// Owner satisfies manager without the admin flag
	ok, err = sat.Satisfies(context.Background(), identity.ForAccount(e.OwnerID), RoleManager, e)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSatisfiesNetworkOnAccount(t *testing.T) {
	dir := newFakeDirectory()
	caller := uuid.New()
	target := uuid.New()
	dir.follow(caller, target)
	sat := NewSatisfier(dir, nil)

	e := &Entity{ID: target, Kind: KindAccount, OwnerID: target}

	ok, err := sat.Satisfies(context.Background(), identity.ForAccount(caller), RoleNetwork, e)
	require.NoError(t, err)
	assert.True(t, ok)

	stranger := uuid.New()
	ok, err = sat.Satisfies(context.Background(), identity.ForAccount(stranger), RoleNetwork, e)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sat.Satisfies(context.Background(), identity.Anonymous(), RoleNetwork, e)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSatisfiesNetworkOnContentUsesPublisher(t *testing.T) {
	dir := newFakeDirectory()
	caller := uuid.New()
	wall := uuid.New()
	dir.follow(caller, wall)
	sat := NewSatisfier(dir, nil)

	e := &Entity{ID: uuid.New(), Kind: KindPost, OwnerID: uuid.New(), PublisherID: &wall}

	ok, err := sat.Satisfies(context.Background(), identity.ForAccount(caller), RoleNetwork, e)
	require.NoError(t, err)
	assert.True(t, ok, "network on content is judged against the publisher")
}

func TestSatisfiesAdminShortCircuitsNetwork(t *testing.T) {
	dir := newFakeDirectory()
	admin := uuid.New()
	dir.admins[admin] = true
	sat := NewSatisfier(dir, nil)

	wall := uuid.New()
	e := &Entity{ID: uuid.New(), Kind: KindPost, OwnerID: uuid.New(), PublisherID: &wall}

	ok, err := sat.Satisfies(context.Background(), identity.ForAccount(admin), RoleNetwork, e)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSatisfiesPublic(t *testing.T) {
	sat := NewSatisfier(newFakeDirectory(), nil)
	e := &Entity{ID: uuid.New(), Kind: KindPost, OwnerID: uuid.New()}

	ok, err := sat.Satisfies(context.Background(), identity.Anonymous(), RolePublic, e)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSatisfiesUndefinedRoleIsIntegrityFault(t *testing.T) {
	sat := NewSatisfier(newFakeDirectory(), nil)
	e := &Entity{ID: uuid.New(), Kind: KindPost, OwnerID: uuid.New()}

	_, err := sat.Satisfies(context.Background(), identity.Anonymous(), Role("root"), e)
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.False(t, IsDenial(err))
}

func TestRequire(t *testing.T) {
	sat := NewSatisfier(newFakeDirectory(), nil)
	owner := uuid.New()
	e := &Entity{
		ID:            uuid.New(),
		Kind:          KindPost,
		OwnerID:       owner,
		ResolvedRoles: fullRoles(RoleOwner),
	}

	require.NoError(t, sat.Require(context.Background(), identity.ForAccount(owner), PermEdit, e))

	err := sat.Require(context.Background(), identity.ForAccount(uuid.New()), PermEdit, e)
	require.Error(t, err)
	assert.True(t, IsDenial(err))

	var de *DenialError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, PermEdit, de.Op)
	assert.Equal(t, e.ID, de.EntityID)
	assert.Equal(t, RoleOwner, de.Required)
}

func TestRequireMissingResolvedRole(t *testing.T) {
	sat := NewSatisfier(newFakeDirectory(), nil)
	e := &Entity{ID: uuid.New(), Kind: KindPost, OwnerID: uuid.New(), ResolvedRoles: RoleMap{}}

	err := sat.Require(context.Background(), identity.System(), PermView, e)
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
}
