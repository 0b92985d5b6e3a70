package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and development mode.
//
// Transactions are simulated with snapshot-rollback: WithTx serializes
// writers, snapshots the whole store, and restores it if the function fails.
// Reads inside a transaction see live data, which matches the engine's
// tolerance for one-transaction staleness.
type Memory struct {
	txMu sync.Mutex // serializes transactions (one propagation pass at a time)
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	entities map[uuid.UUID]*authz.Entity
	links    map[uuid.UUID]map[uuid.UUID]struct{}
	members  map[uuid.UUID]map[uuid.UUID]*Member
	profiles map[uuid.UUID]*Profile
	tokens   map[string]uuid.UUID
	bodies   map[uuid.UUID]*Body
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		entities: make(map[uuid.UUID]*authz.Entity),
		links:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
		members:  make(map[uuid.UUID]map[uuid.UUID]*Member),
		profiles: make(map[uuid.UUID]*Profile),
		tokens:   make(map[string]uuid.UUID),
		bodies:   make(map[uuid.UUID]*Body),
	}
}

func (d *memData) clone() *memData {
	out := newMemData()
	for id, e := range d.entities {
		out.entities[id] = e.Clone()
	}
	for c, ts := range d.links {
		set := make(map[uuid.UUID]struct{}, len(ts))
		for t := range ts {
			set[t] = struct{}{}
		}
		out.links[c] = set
	}
	for c, ms := range d.members {
		mm := make(map[uuid.UUID]*Member, len(ms))
		for a, m := range ms {
			cp := *m
			mm[a] = &cp
		}
		out.members[c] = mm
	}
	for id, p := range d.profiles {
		cp := *p
		out.profiles[id] = &cp
	}
	for t, id := range d.tokens {
		out.tokens[t] = id
	}
	for id, b := range d.bodies {
		cp := *b
		out.bodies[id] = &cp
	}
	return out
}

// WithTx implements Store. A failed function restores the pre-transaction
// snapshot so no partially-applied access-network state survives.
func (m *Memory) WithTx(_ context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.data.clone()
	m.mu.Unlock()

	if err := fn(&memTx{m: m}); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) HealthCheck(context.Context) error { return nil }
func (m *Memory) Close() error                      { return nil }

// memTx is the view handed to WithTx callbacks; a nested WithTx joins the
// surrounding transaction instead of re-snapshotting.
type memTx struct {
	m *Memory
}

func (t *memTx) WithTx(_ context.Context, fn func(Store) error) error { return fn(t) }
func (t *memTx) HealthCheck(context.Context) error                    { return nil }
func (t *memTx) Close() error                                         { return nil }

func (m *Memory) GetEntity(ctx context.Context, id uuid.UUID) (*authz.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data.entities[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) SaveEntity(ctx context.Context, e *authz.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.entities[e.ID] = e.Clone()
	return nil
}

func (m *Memory) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.data
	if _, ok := d.entities[id]; !ok {
		return authz.ErrNotFound
	}
	delete(d.entities, id)
	delete(d.bodies, id)
	delete(d.profiles, id)
	delete(d.links, id)
	delete(d.members, id)
	for _, ts := range d.links {
		delete(ts, id)
	}
	for _, ms := range d.members {
		delete(ms, id)
	}
	for tok, acct := range d.tokens {
		if acct == id {
			delete(d.tokens, tok)
		}
	}
	return nil
}

func (m *Memory) SetAccessNetwork(ctx context.Context, id uuid.UUID, network *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data.entities[id]
	if !ok {
		return authz.ErrNotFound
	}
	if network == nil {
		e.AccessNetworkID = nil
	} else {
		n := *network
		e.AccessNetworkID = &n
	}
	return nil
}

func (m *Memory) RepointDependents(ctx context.Context, entityID uuid.UUID, network *uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.data.entities {
		if id == entityID || e.ListRole() != authz.RolePublic {
			continue
		}
		depends := (e.AccessNetworkID != nil && *e.AccessNetworkID == entityID) ||
			(e.PublisherID != nil && *e.PublisherID == entityID)
		if !depends {
			continue
		}
		if network == nil {
			e.AccessNetworkID = nil
		} else {
			nn := *network
			e.AccessNetworkID = &nn
		}
		n++
	}
	return n, nil
}

func (m *Memory) ClearAccessNetworkRefs(ctx context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.data.entities {
		if e.AccessNetworkID != nil && *e.AccessNetworkID == id {
			e.AccessNetworkID = nil
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListEntities(ctx context.Context, q ListQuery) ([]*authz.Entity, error) {
	if q.Filter == nil {
		return nil, nil
	}
	m.mu.RLock()
	lookup := func(id uuid.UUID) *authz.Entity { return m.data.entities[id] }
	var out []*authz.Entity
	for _, e := range m.data.entities {
		if len(q.Kinds) > 0 && !kindIn(e.Kind, q.Kinds) {
			continue
		}
		if q.Publisher != nil && (e.PublisherID == nil || *e.PublisherID != *q.Publisher) {
			continue
		}
		if !q.Filter.Matches(e, lookup) {
			continue
		}
		out = append(out, e.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func kindIn(k authz.EntityKind, kinds []authz.EntityKind) bool {
	for _, kk := range kinds {
		if k == kk {
			return true
		}
	}
	return false
}

func (m *Memory) AddNetworkLink(ctx context.Context, client, target uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.links[client] == nil {
		m.data.links[client] = make(map[uuid.UUID]struct{})
	}
	m.data.links[client][target] = struct{}{}
	return nil
}

func (m *Memory) RemoveNetworkLink(ctx context.Context, client, target uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.links[client], target)
	return nil
}

func (m *Memory) NetworkTargets(ctx context.Context, client uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uuid.UUID
	for t := range m.data.links[client] {
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) AddMember(ctx context.Context, community, account uuid.UUID, manager bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.members[community] == nil {
		m.data.members[community] = make(map[uuid.UUID]*Member)
	}
	if _, exists := m.data.members[community][account]; exists {
		return nil
	}
	m.data.members[community][account] = &Member{
		CommunityID: community,
		AccountID:   account,
		IsManager:   manager,
		JoinedAt:    time.Now().UTC(),
	}
	return nil
}

func (m *Memory) RemoveMember(ctx context.Context, community, account uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.members[community], account)
	return nil
}

func (m *Memory) GetMember(ctx context.Context, community, account uuid.UUID) (*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.data.members[community][account]
	if !ok {
		return nil, authz.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *Memory) ListMembers(ctx context.Context, community uuid.UUID) ([]*Member, error) {
	m.mu.RLock()
	var out []*Member
	for _, mem := range m.data.members[community] {
		cp := *mem
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].AccountID.String() < out[j].AccountID.String()
	})
	return out, nil
}

func (m *Memory) SetManager(ctx context.Context, community, account uuid.UUID, manager bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.data.members[community][account]
	if !ok {
		return authz.ErrNotFound
	}
	mem.IsManager = manager
	return nil
}

func (m *Memory) SaveProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if old, ok := m.data.profiles[p.AccountID]; ok && old.APIToken != "" && old.APIToken != cp.APIToken {
		delete(m.data.tokens, old.APIToken)
	}
	m.data.profiles[p.AccountID] = &cp
	if cp.APIToken != "" {
		m.data.tokens[cp.APIToken] = cp.AccountID
	}
	return nil
}

func (m *Memory) GetProfile(ctx context.Context, accountID uuid.UUID) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data.profiles[accountID]
	if !ok {
		return nil, authz.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) AccountByToken(ctx context.Context, token string) (uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.data.tokens[token]
	if !ok {
		return uuid.Nil, authz.ErrNotFound
	}
	return id, nil
}

func (m *Memory) SaveBody(ctx context.Context, b *Body) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.data.bodies[b.EntityID] = &cp
	return nil
}

func (m *Memory) GetBody(ctx context.Context, entityID uuid.UUID) (*Body, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data.bodies[entityID]
	if !ok {
		return nil, authz.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// memTx delegates every operation to the owning store; per-op locking keeps
// reads inside the transaction from deadlocking against it.

func (t *memTx) GetEntity(ctx context.Context, id uuid.UUID) (*authz.Entity, error) {
	return t.m.GetEntity(ctx, id)
}
func (t *memTx) SaveEntity(ctx context.Context, e *authz.Entity) error {
	return t.m.SaveEntity(ctx, e)
}
func (t *memTx) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	return t.m.DeleteEntity(ctx, id)
}
func (t *memTx) SetAccessNetwork(ctx context.Context, id uuid.UUID, network *uuid.UUID) error {
	return t.m.SetAccessNetwork(ctx, id, network)
}
func (t *memTx) RepointDependents(ctx context.Context, entityID uuid.UUID, network *uuid.UUID) (int64, error) {
	return t.m.RepointDependents(ctx, entityID, network)
}
func (t *memTx) ClearAccessNetworkRefs(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.m.ClearAccessNetworkRefs(ctx, id)
}
func (t *memTx) ListEntities(ctx context.Context, q ListQuery) ([]*authz.Entity, error) {
	return t.m.ListEntities(ctx, q)
}
func (t *memTx) AddNetworkLink(ctx context.Context, client, target uuid.UUID) error {
	return t.m.AddNetworkLink(ctx, client, target)
}
func (t *memTx) RemoveNetworkLink(ctx context.Context, client, target uuid.UUID) error {
	return t.m.RemoveNetworkLink(ctx, client, target)
}
func (t *memTx) NetworkTargets(ctx context.Context, client uuid.UUID) ([]uuid.UUID, error) {
	return t.m.NetworkTargets(ctx, client)
}
func (t *memTx) AddMember(ctx context.Context, community, account uuid.UUID, manager bool) error {
	return t.m.AddMember(ctx, community, account, manager)
}
func (t *memTx) RemoveMember(ctx context.Context, community, account uuid.UUID) error {
	return t.m.RemoveMember(ctx, community, account)
}
func (t *memTx) GetMember(ctx context.Context, community, account uuid.UUID) (*Member, error) {
	return t.m.GetMember(ctx, community, account)
}
func (t *memTx) ListMembers(ctx context.Context, community uuid.UUID) ([]*Member, error) {
	return t.m.ListMembers(ctx, community)
}
func (t *memTx) SetManager(ctx context.Context, community, account uuid.UUID, manager bool) error {
	return t.m.SetManager(ctx, community, account, manager)
}
func (t *memTx) SaveProfile(ctx context.Context, p *Profile) error {
	return t.m.SaveProfile(ctx, p)
}
func (t *memTx) GetProfile(ctx context.Context, accountID uuid.UUID) (*Profile, error) {
	return t.m.GetProfile(ctx, accountID)
}
func (t *memTx) AccountByToken(ctx context.Context, token string) (uuid.UUID, error) {
	return t.m.AccountByToken(ctx, token)
}
func (t *memTx) SaveBody(ctx context.Context, b *Body) error {
	return t.m.SaveBody(ctx, b)
}
func (t *memTx) GetBody(ctx context.Context, entityID uuid.UUID) (*Body, error) {
	return t.m.GetBody(ctx, entityID)
}
