package authz

import (
	"context"
	"fmt"

	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/google/uuid"
)

// Directory answers the social-graph questions role satisfaction depends on.
// Implemented over the accounts/communities services so the engine never
// touches storage directly.
type Directory interface {
	// NetworkClosure returns the account's own id plus the ids of every
	// account its network relation reaches.
	NetworkClosure(ctx context.Context, accountID uuid.UUID) (map[uuid.UUID]struct{}, error)

	// IsAdministrator reports whether the account is a manager-flagged member
	// of the designated administrative community.
	IsAdministrator(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// Satisfier evaluates whether a caller satisfies a role for an entity.
type Satisfier struct {
	dir     Directory
	metrics *observability.Metrics
}

// NewSatisfier creates a role satisfier over the given directory.
func NewSatisfier(dir Directory, metrics *observability.Metrics) *Satisfier {
	return &Satisfier{dir: dir, metrics: metrics}
}

// Satisfies reports whether caller meets or exceeds the requirement of role
// on entity. Satisfaction is monotone: meeting a higher role implies every
// lower one.
//
// A non-canonical role is a programming error, reported as an IntegrityError
// rather than a denial.
func (s *Satisfier) Satisfies(ctx context.Context, caller identity.Identity, role Role, e *Entity) (bool, error) {
	ok, err := s.satisfies(ctx, caller, role, e)
	if s.metrics != nil && err == nil {
		s.metrics.ObservePermissionCheck(string(role), ok)
	}
	return ok, err
}

func (s *Satisfier) satisfies(ctx context.Context, caller identity.Identity, role Role, e *Entity) (bool, error) {
	switch role {
	case RoleSystem:
		return caller.IsSystem(), nil

	case RoleOwner:
		return s.ownerSatisfied(caller, e), nil

	case RoleManager:
		if s.ownerSatisfied(caller, e) {
			return true, nil
		}
		if !caller.IsAccount() {
			return false, nil
		}
		return s.dir.IsAdministrator(ctx, caller.AccountID)

	case RoleNetwork:
		if s.ownerSatisfied(caller, e) {
			return true, nil
		}
		if caller.IsAccount() {
			if admin, err := s.dir.IsAdministrator(ctx, caller.AccountID); err != nil {
				return false, err
			} else if admin {
				return true, nil
			}
		}
		return s.networkSatisfied(ctx, caller, e)

	case RolePublic:
		// Listability is enforced by the query filter; public imposes no
		// additional caller-specific check.
		return true, nil

	default:
		return false, &IntegrityError{
			EntityID: e.ID,
			Reason:   fmt.Sprintf("role check requested for undefined role %q", role),
		}
	}
}

// ownerSatisfied covers the system identity, the entity's owner, and the case
// where the entity is the caller's own account.
func (s *Satisfier) ownerSatisfied(caller identity.Identity, e *Entity) bool {
	if caller.IsSystem() {
		return true
	}
	if !caller.IsAccount() {
		return false
	}
	if caller.AccountID == e.OwnerID {
		return true
	}
	return e.Kind.IsAccount() && caller.AccountID == e.ID
}

// networkSatisfied checks whether the relevant account (the entity itself if
// it is an account, else its publisher) lies within the caller's network
// closure. The anonymous closure is empty.
func (s *Satisfier) networkSatisfied(ctx context.Context, caller identity.Identity, e *Entity) (bool, error) {
	if !caller.IsAccount() {
		return false, nil
	}
	var relevant uuid.UUID
	switch {
	case e.Kind.IsAccount():
		relevant = e.ID
	case e.PublisherID != nil:
		relevant = *e.PublisherID
	default:
		return false, nil
	}

	closure, err := s.dir.NetworkClosure(ctx, caller.AccountID)
	if err != nil {
		return false, fmt.Errorf("loading network closure for %s: %w", caller.AccountID, err)
	}
	_, ok := closure[relevant]
	return ok, nil
}

// Require is Satisfies with denial semantics: it returns a DenialError when
// the caller does not meet the entity's resolved threshold for op.
func (s *Satisfier) Require(ctx context.Context, caller identity.Identity, op Permission, e *Entity) error {
	role, ok := e.ResolvedRoles[op]
	if !ok {
		return &IntegrityError{
			EntityID: e.ID,
			Reason:   fmt.Sprintf("no resolved role for permission %q", op),
		}
	}
	allowed, err := s.Satisfies(ctx, caller, role, e)
	if err != nil {
		return err
	}
	if !allowed {
		return &DenialError{Op: op, EntityID: e.ID, Required: role}
	}
	return nil
}
