// Package authz resolves per-request authorization contexts by merging
// identity-provider role claims with database-stored organization
// memberships, roles, and permissions.
//
// # Overview
//
// A Resolver turns verified token claims into an immutable Context: the
// user's organizations (sorted), their effective permissions per
// organization (sorted, deduplicated), and a superadmin flag derived from
// the token. Resolution is deterministic; the same claims and database
// state always produce a byte-identical serialized Context.
//
// # Key Types
//
// Store: read interface the resolver depends on; PostgresStore is the
// production implementation with an LRU cache over role permissions
//
// Resolver: claims in, Context out
//
//	ac, err := resolver.Resolve(ctx, claims)
//	if ac.HasPermission(orgID, "member:invite") { ... }
//
// Handlers: HTTP management surface for roles, permissions, organizations,
// and memberships
//
// # System Roles
//
// org-admin, org-editor, and org-viewer are seeded at startup. System roles
// cannot be renamed or deleted; their descriptions may change. Any role
// still referenced by a membership cannot be deleted.
//
// # Superadmin
//
// The token role "superadmin" (matched case-insensitively) bypasses
// membership lookups for guard checks: every guard answers true and every
// organization maps to the wildcard permission "*".
package authz
