package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/identity"
)

type nopDirectory struct{}

func (nopDirectory) NetworkClosure(context.Context, uuid.UUID) (map[uuid.UUID]struct{}, error) {
	return nil, nil
}

func (nopDirectory) IsAdministrator(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func systemFilter(t *testing.T, _ *Memory) *authz.Filter {
	t.Helper()
	f, err := authz.NewSatisfier(nopDirectory{}, nil).ListFilter(context.Background(), identity.System())
	require.NoError(t, err)
	return f
}

func publicRoles() authz.RoleMap {
	m := make(authz.RoleMap)
	for _, p := range authz.Permissions() {
		m[p] = authz.RolePublic
	}
	return m
}

func testEntity(kind authz.EntityKind) *authz.Entity {
	id := uuid.New()
	return &authz.Entity{
		ID:            id,
		Kind:          kind,
		OwnerID:       id,
		TemplateID:    "public",
		ResolvedRoles: publicRoles(),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func TestMemoryEntityRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := testEntity(authz.KindPost)
	require.NoError(t, m.SaveEntity(ctx, e))

	got, err := m.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.TemplateID, got.TemplateID)

	// Returned entities are copies
	got.TemplateID = "mutated"
	again, err := m.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "public", again.TemplateID)

	_, err = m.GetEntity(ctx, uuid.New())
	assert.ErrorIs(t, err, authz.ErrNotFound)
}

func TestMemoryWithTxRollback(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	kept := testEntity(authz.KindPost)
	require.NoError(t, m.SaveEntity(ctx, kept))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveEntity(ctx, testEntity(authz.KindPost)); err != nil {
			return err
		}
		if err := tx.DeleteEntity(ctx, kept.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The failed transaction left no trace
	got, err := m.GetEntity(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, kept.ID, got.ID)
}

func TestMemoryNestedWithTxJoins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := testEntity(authz.KindPost)
	err := m.WithTx(ctx, func(tx Store) error {
		return tx.WithTx(ctx, func(inner Store) error {
			return inner.SaveEntity(ctx, e)
		})
	})
	require.NoError(t, err)

	_, err = m.GetEntity(ctx, e.ID)
	assert.NoError(t, err)
}

func TestMemoryNetworkLinksIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	client, target := uuid.New(), uuid.New()
	require.NoError(t, m.AddNetworkLink(ctx, client, target))
	require.NoError(t, m.AddNetworkLink(ctx, client, target))

	targets, err := m.NetworkTargets(ctx, client)
	require.NoError(t, err)
	assert.Len(t, targets, 1)

	require.NoError(t, m.RemoveNetworkLink(ctx, client, target))
	require.NoError(t, m.RemoveNetworkLink(ctx, client, target))

	targets, err = m.NetworkTargets(ctx, client)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestMemoryMembership(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	community, account := uuid.New(), uuid.New()
	require.NoError(t, m.AddMember(ctx, community, account, false))
	// Duplicate join keeps the original record
	require.NoError(t, m.AddMember(ctx, community, account, true))

	mem, err := m.GetMember(ctx, community, account)
	require.NoError(t, err)
	assert.False(t, mem.IsManager)

	require.NoError(t, m.SetManager(ctx, community, account, true))
	mem, err = m.GetMember(ctx, community, account)
	require.NoError(t, err)
	assert.True(t, mem.IsManager)

	err = m.SetManager(ctx, community, uuid.New(), true)
	assert.ErrorIs(t, err, authz.ErrNotFound)

	members, err := m.ListMembers(ctx, community)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	require.NoError(t, m.RemoveMember(ctx, community, account))
	_, err = m.GetMember(ctx, community, account)
	assert.ErrorIs(t, err, authz.ErrNotFound)
}

func TestMemoryProfileTokens(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, m.SaveProfile(ctx, &Profile{AccountID: id, Name: "n", APIToken: "tok-1"}))

	got, err := m.AccountByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// Token rotation drops the old mapping
	require.NoError(t, m.SaveProfile(ctx, &Profile{AccountID: id, Name: "n", APIToken: "tok-2"}))
	_, err = m.AccountByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, authz.ErrNotFound)
	got, err = m.AccountByToken(ctx, "tok-2")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestMemoryRepointDependents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	wall := testEntity(authz.KindAccount)
	require.NoError(t, m.SaveEntity(ctx, wall))

	onWall := testEntity(authz.KindPost)
	onWall.PublisherID = &wall.ID
	require.NoError(t, m.SaveEntity(ctx, onWall))

	chained := testEntity(authz.KindPost)
	chained.AccessNetworkID = &wall.ID
	require.NoError(t, m.SaveEntity(ctx, chained))

	ownerOnly := testEntity(authz.KindPost)
	ownerOnly.PublisherID = &wall.ID
	for _, p := range authz.Permissions() {
		ownerOnly.ResolvedRoles[p] = authz.RoleOwner
	}
	require.NoError(t, m.SaveEntity(ctx, ownerOnly))

	network := uuid.New()
	n, err := m.RepointDependents(ctx, wall.ID, &network)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "only public-listed dependents are repointed")

	got, _ := m.GetEntity(ctx, onWall.ID)
	require.NotNil(t, got.AccessNetworkID)
	assert.Equal(t, network, *got.AccessNetworkID)

	got, _ = m.GetEntity(ctx, ownerOnly.ID)
	assert.Nil(t, got.AccessNetworkID)
}

func TestMemoryDeleteEntityCleansRelations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := testEntity(authz.KindAccount)
	require.NoError(t, m.SaveEntity(ctx, e))
	require.NoError(t, m.AddNetworkLink(ctx, uuid.New(), e.ID))
	require.NoError(t, m.SaveProfile(ctx, &Profile{AccountID: e.ID, Name: "x", APIToken: "tok"}))
	require.NoError(t, m.SaveBody(ctx, &Body{EntityID: e.ID, Text: "hello"}))

	require.NoError(t, m.DeleteEntity(ctx, e.ID))

	_, err := m.GetEntity(ctx, e.ID)
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = m.GetProfile(ctx, e.ID)
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = m.AccountByToken(ctx, "tok")
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = m.GetBody(ctx, e.ID)
	assert.ErrorIs(t, err, authz.ErrNotFound)

	assert.ErrorIs(t, m.DeleteEntity(ctx, e.ID), authz.ErrNotFound)
}

func TestMemoryListEntitiesOrderAndPaging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		e := testEntity(authz.KindPost)
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, m.SaveEntity(ctx, e))
		ids = append(ids, e.ID)
	}

	// System filter matches everything
	dirlessFilter := systemFilter(t, m)
	out, err := m.ListEntities(ctx, ListQuery{Filter: dirlessFilter})
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, ids[4], out[0].ID, "newest first")

	out, err = m.ListEntities(ctx, ListQuery{Filter: dirlessFilter, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, ids[3], out[0].ID)
	assert.Equal(t, ids[2], out[1].ID)

	out, err = m.ListEntities(ctx, ListQuery{Filter: dirlessFilter, Offset: 99})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = m.ListEntities(ctx, ListQuery{Filter: nil})
	require.NoError(t, err)
	assert.Empty(t, out, "a nil filter lists nothing")
}
