package middleware

import (
	"context"

	"github.com/castellanhq/castellan/pkg/authz"
	"github.com/castellanhq/castellan/pkg/token"
)

// identityCarrier lets middleware that runs later in the chain hand the
// resolved identity back to the audit bridge, which wraps the whole chain.
// Context values only flow downstream; the carrier is the upstream channel.
type identityCarrier struct {
	claims *token.Claims
	authz  *authz.Context
}

type carrierKeyType struct{}

var carrierKey carrierKeyType

func withCarrier(ctx context.Context, c *identityCarrier) context.Context {
	return context.WithValue(ctx, carrierKey, c)
}

func carrierFrom(ctx context.Context) *identityCarrier {
	c, _ := ctx.Value(carrierKey).(*identityCarrier)
	return c
}
