package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/token"
)

// Resolver builds the per-request authorization context by merging provider
// role claims with stored memberships.
type Resolver struct {
	store   Store
	metrics *observability.Metrics
}

// NewResolver creates a resolver over the given store. metrics may be nil.
func NewResolver(store Store, metrics *observability.Metrics) *Resolver {
	return &Resolver{store: store, metrics: metrics}
}

// Resolve produces the capability view for the caller described by claims.
// The result is deterministic: identical claims over identical stored state
// yield a byte-identical serialized context.
func (r *Resolver) Resolve(ctx context.Context, claims *token.Claims) (*Context, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.AuthzResolutionsTotal.Inc()
			r.metrics.AuthzResolutionDuration.Observe(time.Since(start).Seconds())
		}
	}()

	ac := &Context{
		UserID:     claims.UserKey(),
		Realm:      claims.Realm,
		TokenRoles: claims.Roles(),
	}
	if ac.TokenRoles == nil {
		ac.TokenRoles = []string{}
	}

	for _, role := range ac.TokenRoles {
		if strings.EqualFold(role, RoleSuperadmin) {
			ac.Superadmin = true
			break
		}
	}

	memberships, err := r.store.MembershipsForUser(ctx, ac.UserID, ac.Realm)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve memberships: %w", err)
	}

	sort.Slice(memberships, func(i, j int) bool {
		if memberships[i].OrgID != memberships[j].OrgID {
			return memberships[i].OrgID < memberships[j].OrgID
		}
		return memberships[i].RoleID < memberships[j].RoleID
	})
	ac.Organizations = memberships
	if ac.Organizations == nil {
		ac.Organizations = []OrgMembership{}
	}

	ac.PermissionsByOrg = make(map[int64][]string)
	if ac.Superadmin {
		// The wildcard grant covers every organization, including ones
		// the caller has no stored membership in.
		for _, m := range memberships {
			ac.PermissionsByOrg[m.OrgID] = []string{PermissionWildcard}
		}
		return ac, nil
	}

	perOrg := make(map[int64]map[string]struct{})
	for _, m := range memberships {
		perms, err := r.store.PermissionsForRole(ctx, m.RoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve permissions for role %d: %w", m.RoleID, err)
		}
		set, ok := perOrg[m.OrgID]
		if !ok {
			set = make(map[string]struct{})
			perOrg[m.OrgID] = set
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}

	for orgID, set := range perOrg {
		perms := make([]string, 0, len(set))
		for p := range set {
			perms = append(perms, p)
		}
		sort.Strings(perms)
		ac.PermissionsByOrg[orgID] = perms
	}

	return ac, nil
}
