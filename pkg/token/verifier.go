package token

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier checks token signatures against the identity provider's published
// keys. Providers are created lazily per realm because each realm is its own
// OIDC issuer with its own signing keys.
type Verifier struct {
	issuerBaseURL string
	clientID      string

	mu        sync.RWMutex
	providers map[string]*oidc.Provider
}

// NewVerifier creates a Verifier rooted at the provider base URL. clientID
// may be empty to skip the audience check.
func NewVerifier(issuerBaseURL, clientID string) *Verifier {
	return &Verifier{
		issuerBaseURL: strings.TrimRight(issuerBaseURL, "/"),
		clientID:      clientID,
		providers:     make(map[string]*oidc.Provider),
	}
}

// Verify validates the token signature and standard claims for the realm the
// token names, then returns the extracted claims. The token is parsed once
// unverified to discover its realm, and trusted only after verification.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims, err := Extract(raw)
	if err != nil {
		return nil, err
	}

	provider, err := v.providerFor(ctx, claims.Realm)
	if err != nil {
		return nil, fmt.Errorf("discover issuer for realm %s: %w", claims.Realm, err)
	}

	cfg := &oidc.Config{ClientID: v.clientID}
	if v.clientID == "" {
		cfg.SkipClientIDCheck = true
	}
	if _, err := provider.Verifier(cfg).Verify(ctx, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return claims, nil
}

// providerFor is called concurrently from request handlers; the map is
// guarded and the first stored provider for a realm wins.
func (v *Verifier) providerFor(ctx context.Context, realm string) (*oidc.Provider, error) {
	v.mu.RLock()
	p, ok := v.providers[realm]
	v.mu.RUnlock()
	if ok {
		return p, nil
	}

	issuer := v.issuerBaseURL + "/realms/" + realm
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.providers[realm]; ok {
		return existing, nil
	}
	v.providers[realm] = p
	return p, nil
}
