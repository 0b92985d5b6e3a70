package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agora-net/agora/pkg/identity"
	"github.com/google/uuid"
)

// Filter is the caller-specific listing predicate: a row passes iff the
// caller may list it, decided by indexable equality/membership tests on
// owner_id, can_list and access_network_id. No per-row role evaluation,
// no publisher-chain walking.
type Filter struct {
	matchAll bool
	manager  bool

	hasCaller bool
	callerID  uuid.UUID

	closure    []uuid.UUID
	closureSet map[uuid.UUID]struct{}
}

// ListFilter builds the listing filter for a caller. System callers match
// everything; administrators additionally match every row below the System
// gate; regular and anonymous callers get the owner/network/public
// disjunction over their network closure.
func (s *Satisfier) ListFilter(ctx context.Context, caller identity.Identity) (*Filter, error) {
	if caller.IsSystem() {
		return &Filter{matchAll: true}, nil
	}

	f := &Filter{closureSet: map[uuid.UUID]struct{}{}}
	if !caller.IsAccount() {
		return f, nil
	}

	f.hasCaller = true
	f.callerID = caller.AccountID

	admin, err := s.dir.IsAdministrator(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	f.manager = admin

	closure, err := s.dir.NetworkClosure(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	f.closureSet = closure
	f.closure = make([]uuid.UUID, 0, len(closure))
	for id := range closure {
		f.closure = append(f.closure, id)
	}
	// Deterministic arg order keeps generated SQL stable for tests and logs.
	sort.Slice(f.closure, func(i, j int) bool {
		return f.closure[i].String() < f.closure[j].String()
	})
	return f, nil
}

// SQL renders the filter as a single WHERE fragment against table, whose
// secured columns are referenced through alias. Placeholders are numbered
// from start; the matching args are returned alongside.
func (f *Filter) SQL(table, alias string, start int) (string, []interface{}) {
	if f.matchAll {
		return "TRUE", nil
	}

	var clauses []string
	var args []interface{}
	next := start

	if f.manager {
		clauses = append(clauses,
			fmt.Sprintf("%s.can_list IN ('owner', 'network', 'manager')", alias))
	}

	if f.hasCaller {
		clauses = append(clauses,
			fmt.Sprintf("(%s.owner_id = $%d AND %s.can_list = 'owner')", alias, next, alias))
		args = append(args, f.callerID.String())
		next++
	}

	if len(f.closure) > 0 {
		placeholders := make([]string, len(f.closure))
		for i, id := range f.closure {
			placeholders[i] = fmt.Sprintf("$%d", next)
			args = append(args, id.String())
			next++
		}
		clauses = append(clauses, fmt.Sprintf(
			"(%s.can_list IN ('network', 'public') AND %s.access_network_id IN (%s))",
			alias, alias, strings.Join(placeholders, ", ")))
	}

	// Unbounded public rows, and public rows whose access network is itself
	// an unbounded public row (anonymous-safe public chaining).
	clauses = append(clauses, fmt.Sprintf(
		"(%s.can_list = 'public' AND %s.access_network_id IS NULL)", alias, alias))
	clauses = append(clauses, fmt.Sprintf(
		"(%s.can_list = 'public' AND %s.access_network_id IN "+
			"(SELECT id FROM %s WHERE can_list = 'public' AND access_network_id IS NULL))",
		alias, alias, table))

	return "(" + strings.Join(clauses, " OR ") + ")", args
}

// Matches is the in-memory equivalent of SQL: it decides listability for a
// single entity. lookup resolves an access-network id to its entity for the
// public-chaining clause; it may return nil for unknown ids.
func (f *Filter) Matches(e *Entity, lookup func(uuid.UUID) *Entity) bool {
	if f.matchAll {
		return true
	}

	listRole := e.ListRole()

	if f.manager {
		switch listRole {
		case RoleOwner, RoleNetwork, RoleManager:
			return true
		}
	}

	if f.hasCaller && listRole == RoleOwner && e.OwnerID == f.callerID {
		return true
	}

	if (listRole == RoleNetwork || listRole == RolePublic) && e.AccessNetworkID != nil {
		if _, ok := f.closureSet[*e.AccessNetworkID]; ok {
			return true
		}
	}

	if listRole == RolePublic {
		if e.AccessNetworkID == nil {
			return true
		}
		if n := lookup(*e.AccessNetworkID); n != nil &&
			n.ListRole() == RolePublic && n.AccessNetworkID == nil {
			return true
		}
	}

	return false
}
