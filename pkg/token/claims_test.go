package token

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, payload map[string]interface{}) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	require.NoError(t, err)
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(body) + "."
}

func TestExtract(t *testing.T) {
	t.Run("full keycloak token", func(t *testing.T) {
		raw := makeToken(t, map[string]interface{}{
			"iss":                "https://id.example.com/realms/acme",
			"sub":                "user-123",
			"email":              "jane@acme.example",
			"name":               "Jane Doe",
			"preferred_username": "jane",
			"azp":                "castellan-web",
			"sid":                "sess-42",
			"realm_access":       map[string]interface{}{"roles": []string{"admin", "viewer"}},
			"resource_access": map[string]interface{}{
				"castellan-web": map[string]interface{}{"roles": []string{"uploader"}},
				"other-client":  map[string]interface{}{"roles": []string{"ignored"}},
			},
			"roles": []string{"legacy-role"},
		})

		claims, err := Extract(raw)
		require.NoError(t, err)

		assert.Equal(t, "user-123", claims.Subject)
		assert.Equal(t, "acme", claims.Realm)
		assert.Equal(t, "castellan-web", claims.ClientID)
		assert.Equal(t, "sess-42", claims.SessionID)
		assert.Equal(t, []string{"admin", "viewer"}, claims.RealmRoles)
		assert.Equal(t, []string{"uploader"}, claims.ClientRoles)
		assert.Equal(t, []string{"legacy-role"}, claims.RootRoles)
	})

	t.Run("role union deduplicates across sources", func(t *testing.T) {
		raw := makeToken(t, map[string]interface{}{
			"iss":          "https://id.example.com/realms/acme",
			"sub":          "user-123",
			"azp":          "web",
			"realm_access": map[string]interface{}{"roles": []string{"admin", "viewer"}},
			"resource_access": map[string]interface{}{
				"web": map[string]interface{}{"roles": []string{"viewer", "uploader"}},
			},
			"roles": []string{"admin", "auditor"},
		})

		claims, err := Extract(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "viewer", "uploader", "auditor"}, claims.Roles())
	})

	t.Run("empty credential", func(t *testing.T) {
		_, err := Extract("   ")
		assert.ErrorIs(t, err, ErrInvalidTokenFormat)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := Extract("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidTokenFormat)
	})

	t.Run("garbage payload", func(t *testing.T) {
		enc := base64.RawURLEncoding
		raw := enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte("not json")) + "."
		_, err := Extract(raw)
		assert.ErrorIs(t, err, ErrInvalidTokenFormat)
	})

	t.Run("missing issuer", func(t *testing.T) {
		raw := makeToken(t, map[string]interface{}{"sub": "user-123"})
		_, err := Extract(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("issuer without realm", func(t *testing.T) {
		raw := makeToken(t, map[string]interface{}{
			"iss": "https://id.example.com/",
			"sub": "user-123",
		})
		_, err := Extract(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing user identifier", func(t *testing.T) {
		raw := makeToken(t, map[string]interface{}{
			"iss": "https://id.example.com/realms/acme",
		})
		_, err := Extract(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("email fallback identifier", func(t *testing.T) {
		raw := makeToken(t, map[string]interface{}{
			"iss":   "https://id.example.com/realms/acme",
			"email": "jane@acme.example",
		})
		claims, err := Extract(raw)
		require.NoError(t, err)
		assert.Equal(t, "email:jane@acme.example", claims.UserKey())
	})

	t.Run("trailing slash on issuer", func(t *testing.T) {
		raw := makeToken(t, map[string]interface{}{
			"iss": "https://id.example.com/realms/acme/",
			"sub": "user-123",
		})
		claims, err := Extract(raw)
		require.NoError(t, err)
		assert.Equal(t, "acme", claims.Realm)
	})
}

func TestClaimsDisplayName(t *testing.T) {
	c := &Claims{Name: "Jane Doe", PreferredUsername: "jane"}
	assert.Equal(t, "Jane Doe", c.DisplayName())

	c = &Claims{PreferredUsername: "jane"}
	assert.Equal(t, "jane", c.DisplayName())
}
