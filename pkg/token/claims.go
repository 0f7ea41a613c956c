// Package token extracts identity claims from bearer credentials issued by
// the identity provider. Extraction is pure parsing: signature verification
// belongs to the upstream Verifier collaborator and must happen before any
// extracted claim is trusted.
package token

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a structurally valid token missing required
	// claims (issuer realm, user identifier).
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidTokenFormat indicates the credential could not be decoded at
	// all (not a JWT, bad base64, bad JSON payload).
	ErrInvalidTokenFormat = errors.New("invalid token format")
)

// realmPattern matches the tenant segment of a provider issuer URL,
// e.g. https://id.example.com/realms/acme -> acme.
var realmPattern = regexp.MustCompile(`/realms/([^/]+)/?$`)

// Claims is the extracted, provider-asserted view of a caller.
type Claims struct {
	Subject           string
	Email             string
	Name              string
	PreferredUsername string
	Issuer            string
	Realm             string
	ClientID          string // azp claim
	SessionID         string // sid claim

	RealmRoles  []string
	ClientRoles []string
	RootRoles   []string
}

// rawClaims mirrors the provider token payload.
type rawClaims struct {
	jwt.RegisteredClaims

	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	AuthorizedParty   string `json:"azp"`
	SessionID         string `json:"sid"`

	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
	Roles []string `json:"roles"`
}

// Extract decodes the payload of a compact JWT and returns the claims the
// authorization layer needs. The signature is NOT checked here.
func Extract(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrInvalidTokenFormat)
	}

	var rc rawClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenFormat, err)
	}

	if rc.Issuer == "" {
		return nil, fmt.Errorf("%w: missing issuer", ErrInvalidToken)
	}
	m := realmPattern.FindStringSubmatch(rc.Issuer)
	if m == nil {
		return nil, fmt.Errorf("%w: issuer %q does not identify a realm", ErrInvalidToken, rc.Issuer)
	}

	// Tokens from some providers omit sub; email or preferred_username is
	// an acceptable fallback identifier, but one of them must exist.
	if rc.Subject == "" && rc.Email == "" && rc.PreferredUsername == "" {
		return nil, fmt.Errorf("%w: missing user identifier (sub or email)", ErrInvalidToken)
	}

	claims := &Claims{
		Subject:           rc.Subject,
		Email:             rc.Email,
		Name:              rc.Name,
		PreferredUsername: rc.PreferredUsername,
		Issuer:            rc.Issuer,
		Realm:             m[1],
		ClientID:          rc.AuthorizedParty,
		SessionID:         rc.SessionID,
		RealmRoles:        rc.RealmAccess.Roles,
		RootRoles:         rc.Roles,
	}
	if rc.AuthorizedParty != "" {
		if access, ok := rc.ResourceAccess[rc.AuthorizedParty]; ok {
			claims.ClientRoles = access.Roles
		}
	}

	return claims, nil
}

// UserKey returns the stable identifier for the caller: the subject when
// present, otherwise an email-derived key.
func (c *Claims) UserKey() string {
	if c.Subject != "" {
		return c.Subject
	}
	if c.Email != "" {
		return "email:" + c.Email
	}
	return "email:" + c.PreferredUsername
}

// DisplayName returns the best human-readable name available.
func (c *Claims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.PreferredUsername
}

// Roles returns the union of realm, client, and root-level provider role
// claims, de-duplicated preserving first occurrence.
func (c *Claims) Roles() []string {
	seen := make(map[string]struct{})
	var roles []string
	for _, group := range [][]string{c.RealmRoles, c.ClientRoles, c.RootRoles} {
		for _, r := range group {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			roles = append(roles, r)
		}
	}
	return roles
}
