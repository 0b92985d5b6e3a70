// Package authz implements the authorization and visibility engine.
//
// Every securable object in Agora is a secured Entity carrying an owner, a
// publisher, a permission template, and a set of resolved per-permission role
// thresholds. The engine answers two questions:
//
//   - May this caller perform this operation on this entity? (Satisfier)
//   - Which rows may this caller list, as a single indexable predicate? (Filter)
//
// The second question is made cheap by the access-network denormalization: a
// nullable pointer to the nearest ancestor account that actually bounds an
// entity's visibility, maintained by the Propagator on every save so that list
// queries never walk publisher chains row by row.
//
// All entry points take the caller identity as an explicit parameter; nothing
// in this package inspects ambient request state.
package authz
