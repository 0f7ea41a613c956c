package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellanhq/castellan/pkg/authz"
)

type staticStore struct {
	memberships []authz.OrgMembership
	rolePerms   map[int64][]string
}

func (s *staticStore) MembershipsForUser(context.Context, string, string) ([]authz.OrgMembership, error) {
	return s.memberships, nil
}

func (s *staticStore) PermissionsForRole(_ context.Context, roleID int64) ([]string, error) {
	return s.rolePerms[roleID], nil
}

func bearerToken(t *testing.T, payload map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	require.NoError(t, err)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(body) + "."
}

func testResolver() *authz.Resolver {
	return authz.NewResolver(&staticStore{
		memberships: []authz.OrgMembership{
			{OrgID: 1, OrgName: "alpha", Role: "org-admin", RoleID: 10},
		},
		rolePerms: map[int64][]string{10: {"member:read"}},
	}, nil)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	mw := NewAuthMiddleware(ExtractOnly(), testResolver(), false)
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "UNAUTHORIZED", envelope["error"])
}

func TestAuthMiddleware_MalformedToken(t *testing.T) {
	mw := NewAuthMiddleware(ExtractOnly(), testResolver(), false)
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_WrongScheme(t *testing.T) {
	mw := NewAuthMiddleware(ExtractOnly(), testResolver(), false)
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_ResolvesContext(t *testing.T) {
	mw := NewAuthMiddleware(ExtractOnly(), testResolver(), false)

	var seen *authz.Context
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthzContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, map[string]interface{}{
		"iss":          "https://id.example.com/realms/acme",
		"sub":          "user-1",
		"realm_access": map[string]interface{}{"roles": []string{"uploader"}},
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.UserID)
	assert.Equal(t, "acme", seen.Realm)
	assert.True(t, seen.HasPermission(1, "member:read"))
}

func TestRequirePermission(t *testing.T) {
	mw := NewAuthMiddleware(ExtractOnly(), testResolver(), false)

	router := mux.NewRouter()
	router.Use(mw.Handler)
	router.Handle("/orgs/{id:[0-9]+}/members",
		RequirePermission("id", "member:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+bearerToken(t, map[string]interface{}{
			"iss": "https://id.example.com/realms/acme",
			"sub": "user-1",
		}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/orgs/1/members"), "member:read granted in org 1")
	assert.Equal(t, http.StatusForbidden, do("/orgs/2/members"), "no membership in org 2")
}

func TestAuthMiddleware_OptionalPassthrough(t *testing.T) {
	mw := NewAuthMiddleware(ExtractOnly(), testResolver(), true)

	var ran bool
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		assert.Nil(t, GetAuthzContext(r))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))

	assert.True(t, ran)
	assert.Equal(t, http.StatusOK, rec.Code)
}
