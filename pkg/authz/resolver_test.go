package authz

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellanhq/castellan/pkg/token"
)

type fakeStore struct {
	memberships map[string][]OrgMembership
	rolePerms   map[int64][]string
	failWith    error
}

func (f *fakeStore) MembershipsForUser(_ context.Context, userID, realm string) ([]OrgMembership, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.memberships[userID+"@"+realm], nil
}

func (f *fakeStore) PermissionsForRole(_ context.Context, roleID int64) ([]string, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.rolePerms[roleID], nil
}

func claimsFor(sub string, roles ...string) *token.Claims {
	return &token.Claims{
		Subject:    sub,
		Realm:      "acme",
		RealmRoles: roles,
	}
}

func TestResolver_Resolve(t *testing.T) {
	store := &fakeStore{
		memberships: map[string][]OrgMembership{
			"user-1@acme": {
				{OrgID: 2, OrgName: "beta", Role: "org-viewer", RoleID: 11},
				{OrgID: 1, OrgName: "alpha", Role: "org-admin", RoleID: 10},
				{OrgID: 1, OrgName: "alpha", Role: "org-editor", RoleID: 12},
			},
		},
		rolePerms: map[int64][]string{
			10: {"member:invite", "member:read", "organization:read"},
			11: {"organization:read"},
			12: {"organization:read", "role:read"},
		},
	}
	resolver := NewResolver(store, nil)

	ac, err := resolver.Resolve(context.Background(), claimsFor("user-1", "uploader"))
	require.NoError(t, err)

	assert.Equal(t, "user-1", ac.UserID)
	assert.Equal(t, "acme", ac.Realm)
	assert.False(t, ac.Superadmin)

	// Organizations sorted by org id then role id.
	require.Len(t, ac.Organizations, 3)
	assert.Equal(t, int64(1), ac.Organizations[0].OrgID)
	assert.Equal(t, "org-admin", ac.Organizations[0].Role)
	assert.Equal(t, "org-editor", ac.Organizations[1].Role)
	assert.Equal(t, int64(2), ac.Organizations[2].OrgID)

	// Permissions unioned across roles within an org, sorted, de-duplicated.
	assert.Equal(t, []string{"member:invite", "member:read", "organization:read", "role:read"}, ac.PermissionsByOrg[1])
	assert.Equal(t, []string{"organization:read"}, ac.PermissionsByOrg[2])

	assert.Equal(t, []int64{1, 2}, ac.OrgIDs())
}

func TestResolver_Resolve_Deterministic(t *testing.T) {
	store := &fakeStore{
		memberships: map[string][]OrgMembership{
			"user-1@acme": {
				{OrgID: 3, OrgName: "gamma", Role: "org-viewer", RoleID: 11},
				{OrgID: 1, OrgName: "alpha", Role: "org-admin", RoleID: 10},
			},
		},
		rolePerms: map[int64][]string{
			10: {"member:read", "audit:read"},
			11: {"organization:read"},
		},
	}
	resolver := NewResolver(store, nil)
	claims := claimsFor("user-1", "viewer", "uploader")

	first, err := resolver.Resolve(context.Background(), claims)
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		next, err := resolver.Resolve(context.Background(), claims)
		require.NoError(t, err)
		nextJSON, err := json.Marshal(next)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(nextJSON))
	}
}

func TestResolver_Resolve_SuperadminWildcard(t *testing.T) {
	store := &fakeStore{
		memberships: map[string][]OrgMembership{
			"root@acme": {
				{OrgID: 1, OrgName: "alpha", Role: "org-viewer", RoleID: 11},
			},
		},
		rolePerms: map[int64][]string{11: {"organization:read"}},
	}
	resolver := NewResolver(store, nil)

	ac, err := resolver.Resolve(context.Background(), claimsFor("root", "Superadmin"))
	require.NoError(t, err)

	assert.True(t, ac.Superadmin)
	assert.Equal(t, []string{PermissionWildcard}, ac.PermissionsByOrg[1])
}

func TestResolver_Resolve_NoMemberships(t *testing.T) {
	resolver := NewResolver(&fakeStore{}, nil)

	ac, err := resolver.Resolve(context.Background(), claimsFor("stranger"))
	require.NoError(t, err)

	assert.NotNil(t, ac.Organizations)
	assert.Empty(t, ac.Organizations)
	assert.Empty(t, ac.PermissionsByOrg)
	assert.False(t, ac.CanAccessOrganization(1))
}

func TestResolver_Resolve_StoreError(t *testing.T) {
	resolver := NewResolver(&fakeStore{failWith: errors.New("db down")}, nil)

	_, err := resolver.Resolve(context.Background(), claimsFor("user-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve memberships")
}

func TestContext_Roles_Union(t *testing.T) {
	ac := &Context{
		TokenRoles: []string{"Admin", "viewer"},
		Organizations: []OrgMembership{
			{OrgID: 1, Role: "admin"},
			{OrgID: 2, Role: "org-editor"},
			{OrgID: 3, Role: "Viewer"},
		},
	}

	// Case-insensitive de-dup keeps the first-seen spelling.
	assert.Equal(t, []string{"Admin", "viewer", "org-editor"}, ac.Roles())
}
