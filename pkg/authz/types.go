package authz

import (
	"sort"
	"strings"
	"time"
)

// PermissionWildcard grants every permission in every organization. Only the
// superadmin bootstrap path produces it.
const PermissionWildcard = "*"

// RoleSuperadmin is the provider-asserted role that short-circuits
// organization lookups with the wildcard grant.
const RoleSuperadmin = "superadmin"

// Role is a named bundle of permissions scoped to the whole deployment.
// System roles are seeded at migration time and cannot be renamed or deleted.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a grantable capability, named "resource:action".
type Permission struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	IsSystem bool   `json:"is_system"`
}

// SplitName fills Resource and Action from a "resource:action" name. A name
// without a colon becomes resource only.
func (p *Permission) SplitName() {
	if idx := strings.IndexByte(p.Name, ':'); idx >= 0 {
		p.Resource = p.Name[:idx]
		p.Action = p.Name[idx+1:]
	} else {
		p.Resource = p.Name
		p.Action = ""
	}
}

// Organization is a tenant-scoped grouping users belong to.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Realm     string    `json:"realm"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership binds a user to a role inside an organization. The
// (user_id, org_id, role_id) triple is unique: a user may hold several roles
// in one organization, but never the same role twice.
type Membership struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	OrgID     int64     `json:"org_id"`
	RoleID    int64     `json:"role_id"`
	GrantedBy string    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// OrgMembership is one organization entry of a resolved authorization
// context: the organization plus the role the caller holds there.
type OrgMembership struct {
	OrgID   int64  `json:"org_id"`
	OrgName string `json:"org_name"`
	Role    string `json:"role"`
	RoleID  int64  `json:"role_id"`
}

// Context is the per-request capability view: identity-provider role claims
// merged with stored memberships and their permissions. It is built once per
// request and never mutated afterwards.
type Context struct {
	UserID     string   `json:"user_id"`
	Realm      string   `json:"realm"`
	Superadmin bool     `json:"superadmin"`
	TokenRoles []string `json:"token_roles"`

	// Organizations is sorted by OrgID then RoleID so two resolutions of
	// the same state serialize identically.
	Organizations []OrgMembership `json:"organizations"`

	// PermissionsByOrg maps org id to the sorted, de-duplicated permission
	// names granted there. Superadmin contexts hold the wildcard.
	PermissionsByOrg map[int64][]string `json:"permissions_by_org"`
}

// Roles returns the union of provider role claims and stored organization
// roles, de-duplicated case-insensitively preserving the first-seen spelling.
func (c *Context) Roles() []string {
	seen := make(map[string]struct{})
	var roles []string
	add := func(r string) {
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		roles = append(roles, r)
	}
	for _, r := range c.TokenRoles {
		add(r)
	}
	for _, m := range c.Organizations {
		add(m.Role)
	}
	return roles
}

// Permissions returns the flat union of permission names across every
// organization, sorted. These are "any-org" semantics: holding a permission
// here means some organization granted it, not that every organization did.
func (c *Context) Permissions() []string {
	seen := make(map[string]struct{})
	var perms []string
	for _, orgPerms := range c.PermissionsByOrg {
		for _, p := range orgPerms {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}
	sort.Strings(perms)
	return perms
}

// OrgIDs returns the sorted organization ids the caller belongs to.
func (c *Context) OrgIDs() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, m := range c.Organizations {
		if _, ok := seen[m.OrgID]; ok {
			continue
		}
		seen[m.OrgID] = struct{}{}
		ids = append(ids, m.OrgID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
