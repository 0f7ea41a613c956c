package authz

import "strings"

// Guards answer questions about an already-resolved context. They never
// touch storage and never return errors: an absent grant is simply false.

// CanAccessOrganization reports whether the caller belongs to the
// organization. Superadmins can access every organization.
func (c *Context) CanAccessOrganization(orgID int64) bool {
	if c.Superadmin {
		return true
	}
	for _, m := range c.Organizations {
		if m.OrgID == orgID {
			return true
		}
	}
	return false
}

// HasRole reports whether the caller holds the named role inside the
// organization. Role names compare case-insensitively.
func (c *Context) HasRole(name string, orgID int64) bool {
	if c.Superadmin {
		return true
	}
	for _, m := range c.Organizations {
		if m.OrgID == orgID && strings.EqualFold(m.Role, name) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the caller holds at least one of the named
// roles inside the organization.
func (c *Context) HasAnyRole(orgID int64, names ...string) bool {
	for _, name := range names {
		if c.HasRole(name, orgID) {
			return true
		}
	}
	return false
}

// HasRoleAnywhere reports whether the caller holds the named role in any
// organization or as a provider claim.
func (c *Context) HasRoleAnywhere(name string) bool {
	if c.Superadmin {
		return true
	}
	for _, r := range c.Roles() {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// HasAnyRoleAnywhere reports whether the caller holds at least one of the
// named roles in any organization or as a provider claim.
func (c *Context) HasAnyRoleAnywhere(names ...string) bool {
	for _, name := range names {
		if c.HasRoleAnywhere(name) {
			return true
		}
	}
	return false
}

// HasTokenRole reports whether the provider asserted the named role,
// independent of any organization.
func (c *Context) HasTokenRole(name string) bool {
	for _, r := range c.TokenRoles {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the caller holds the named permission inside
// the organization. The wildcard grant matches everything.
func (c *Context) HasPermission(orgID int64, permission string) bool {
	if c.Superadmin {
		return true
	}
	for _, p := range c.PermissionsByOrg[orgID] {
		if p == PermissionWildcard || p == permission {
			return true
		}
	}
	return false
}

// HasPermissionAnywhere reports whether any organization granted the named
// permission to the caller.
func (c *Context) HasPermissionAnywhere(permission string) bool {
	if c.Superadmin {
		return true
	}
	for _, perms := range c.PermissionsByOrg {
		for _, p := range perms {
			if p == PermissionWildcard || p == permission {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission reports whether the caller holds at least one of the
// named permissions inside the organization.
func (c *Context) HasAnyPermission(orgID int64, permissions ...string) bool {
	for _, p := range permissions {
		if c.HasPermission(orgID, p) {
			return true
		}
	}
	return false
}
