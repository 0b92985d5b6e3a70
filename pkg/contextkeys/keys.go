// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains the resolved caller identity
	// Set by: middleware.Identity (pkg/middleware/identity.go)
	// Required by: identity.Resolve, all secured endpoints
	// Type: identity.Identity
	IdentityKey Key = "identity"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID (pkg/middleware/requestid.go)
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"
)
