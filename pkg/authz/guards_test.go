package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func memberContext() *Context {
	return &Context{
		UserID: "user-1",
		Realm:  "acme",
		Organizations: []OrgMembership{
			{OrgID: 1, OrgName: "alpha", Role: "org-admin", RoleID: 10},
			{OrgID: 2, OrgName: "beta", Role: "org-viewer", RoleID: 11},
		},
		PermissionsByOrg: map[int64][]string{
			1: {"member:invite", "member:read", "organization:read"},
			2: {"organization:read"},
		},
	}
}

func TestCanAccessOrganization(t *testing.T) {
	ac := memberContext()

	assert.True(t, ac.CanAccessOrganization(1))
	assert.True(t, ac.CanAccessOrganization(2))
	assert.False(t, ac.CanAccessOrganization(3))
}

func TestHasRole(t *testing.T) {
	ac := memberContext()

	assert.True(t, ac.HasRole("org-admin", 1))
	assert.True(t, ac.HasRole("ORG-ADMIN", 1), "role names compare case-insensitively")
	assert.False(t, ac.HasRole("org-admin", 2), "role is scoped to its organization")
	assert.False(t, ac.HasRole("org-owner", 1))
}

func TestHasAnyRole(t *testing.T) {
	ac := memberContext()

	assert.True(t, ac.HasAnyRole(2, "org-admin", "org-viewer"))
	assert.False(t, ac.HasAnyRole(2, "org-admin", "org-editor"))
	assert.False(t, ac.HasAnyRole(2))
}

func TestHasRoleAnywhere(t *testing.T) {
	ac := memberContext()
	ac.TokenRoles = []string{"uploader"}

	assert.True(t, ac.HasRoleAnywhere("org-admin"), "held in org 1")
	assert.True(t, ac.HasRoleAnywhere("ORG-VIEWER"))
	assert.True(t, ac.HasRoleAnywhere("uploader"), "provider claims count")
	assert.False(t, ac.HasRoleAnywhere("org-editor"))

	assert.True(t, ac.HasAnyRoleAnywhere("org-editor", "org-viewer"))
	assert.False(t, ac.HasAnyRoleAnywhere("org-editor", "org-owner"))
}

func TestHasPermissionAnywhere(t *testing.T) {
	ac := memberContext()

	assert.True(t, ac.HasPermissionAnywhere("member:invite"), "granted by org 1")
	assert.True(t, ac.HasPermissionAnywhere("organization:read"))
	assert.False(t, ac.HasPermissionAnywhere("billing:manage"))
}

func TestPermissionsFlatUnion(t *testing.T) {
	ac := memberContext()

	assert.Equal(t, []string{"member:invite", "member:read", "organization:read"}, ac.Permissions())
}

func TestHasTokenRole(t *testing.T) {
	ac := memberContext()
	ac.TokenRoles = []string{"uploader"}

	assert.True(t, ac.HasTokenRole("Uploader"))
	assert.False(t, ac.HasTokenRole("admin"))
}

func TestHasPermission(t *testing.T) {
	ac := memberContext()

	assert.True(t, ac.HasPermission(1, "member:invite"))
	assert.False(t, ac.HasPermission(2, "member:invite"), "permission is scoped to its organization")
	assert.False(t, ac.HasPermission(3, "organization:read"))
	assert.False(t, ac.HasPermission(1, "billing:manage"))
}

func TestHasPermission_Wildcard(t *testing.T) {
	ac := &Context{
		PermissionsByOrg: map[int64][]string{1: {PermissionWildcard}},
	}

	assert.True(t, ac.HasPermission(1, "anything:at_all"))
	assert.False(t, ac.HasPermission(2, "anything:at_all"))
}

func TestSuperadminGuards(t *testing.T) {
	ac := &Context{Superadmin: true}

	assert.True(t, ac.CanAccessOrganization(99))
	assert.True(t, ac.HasRole("any-role", 99))
	assert.True(t, ac.HasPermission(99, "any:permission"))
}

func TestHasAnyPermission(t *testing.T) {
	ac := memberContext()

	assert.True(t, ac.HasAnyPermission(2, "member:invite", "organization:read"))
	assert.False(t, ac.HasAnyPermission(2, "member:invite", "member:remove"))
}
