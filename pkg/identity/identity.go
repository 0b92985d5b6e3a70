// Package identity resolves "who is asking" for every operation.
//
// The resolved Identity is threaded explicitly through every authorization
// entry point; nothing downstream inspects ambient call state. HTTP glue
// resolves once per request and passes the value down.
package identity

import (
	"context"

	"github.com/agora-net/agora/pkg/contextkeys"
	"github.com/google/uuid"
)

// Kind distinguishes the three classes of caller.
type Kind int

const (
	// KindAnonymous is the unauthenticated caller.
	KindAnonymous Kind = iota

	// KindAccount is a caller bound to an account.
	KindAccount

	// KindSystem is the distinguished system identity used by trusted
	// batch/bootstrap code. Never inferred; only set via explicit override.
	KindSystem
)

// Identity is the resolved caller of an operation.
type Identity struct {
	Kind      Kind
	AccountID uuid.UUID // zero unless Kind == KindAccount
}

// Anonymous returns the singleton anonymous identity.
func Anonymous() Identity {
	return Identity{Kind: KindAnonymous}
}

// System returns the distinguished system identity.
func System() Identity {
	return Identity{Kind: KindSystem}
}

// ForAccount returns an identity bound to the given account.
func ForAccount(id uuid.UUID) Identity {
	return Identity{Kind: KindAccount, AccountID: id}
}

// IsAnonymous reports whether i is the anonymous identity.
func (i Identity) IsAnonymous() bool {
	return i.Kind == KindAnonymous
}

// IsSystem reports whether i is the system identity.
func (i Identity) IsSystem() bool {
	return i.Kind == KindSystem
}

// IsAccount reports whether i is bound to an account.
func (i Identity) IsAccount() bool {
	return i.Kind == KindAccount
}

func (i Identity) String() string {
	switch i.Kind {
	case KindSystem:
		return "system"
	case KindAccount:
		return "account:" + i.AccountID.String()
	default:
		return "anonymous"
	}
}

// WithIdentity binds an identity to a request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextkeys.IdentityKey, id)
}

// Resolve determines the caller for an operation. Resolution order: an
// explicit override (trusted batch/system code), then an identity bound to
// the request context, then Anonymous. Absence of the first two is not an
// error. Pure lookup; no side effects.
func Resolve(ctx context.Context, override *Identity) Identity {
	if override != nil {
		return *override
	}
	if v := ctx.Value(contextkeys.IdentityKey); v != nil {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Anonymous()
}
