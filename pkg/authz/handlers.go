package authz

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/contextkeys"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/observability"
)

// Handlers exposes role, organization, and membership management over HTTP.
// Every handler expects an authenticated request: the middleware stores the
// resolved Context before these run.
type Handlers struct {
	store        *PostgresStore
	logger       *observability.Logger
	metrics      *observability.Metrics
	includeStack bool
}

// NewHandlers creates the management handlers. includeStack controls stack
// traces in 5xx envelopes and must be false in production. metrics may be
// nil.
func NewHandlers(store *PostgresStore, logger *observability.Logger, metrics *observability.Metrics, includeStack bool) *Handlers {
	return &Handlers{store: store, logger: logger, metrics: metrics, includeStack: includeStack}
}

// RegisterRoutes attaches all management routes to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/authz/context", h.GetContext).Methods(http.MethodGet)

	r.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	r.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
	r.HandleFunc("/roles/{id:[0-9]+}", h.GetRole).Methods(http.MethodGet)
	r.HandleFunc("/roles/{id:[0-9]+}", h.UpdateRole).Methods(http.MethodPut)
	r.HandleFunc("/roles/{id:[0-9]+}", h.DeleteRole).Methods(http.MethodDelete)
	r.HandleFunc("/roles/{id:[0-9]+}/permissions", h.GrantPermission).Methods(http.MethodPost)
	r.HandleFunc("/roles/{id:[0-9]+}/permissions/{name}", h.RevokePermission).Methods(http.MethodDelete)

	r.HandleFunc("/orgs", h.ListOrganizations).Methods(http.MethodGet)
	r.HandleFunc("/orgs", h.CreateOrganization).Methods(http.MethodPost)
	r.HandleFunc("/orgs/{id:[0-9]+}", h.GetOrganization).Methods(http.MethodGet)
	r.HandleFunc("/orgs/{id:[0-9]+}/members", h.ListMembers).Methods(http.MethodGet)
	r.HandleFunc("/orgs/{id:[0-9]+}/members", h.AssignRole).Methods(http.MethodPost)
	r.HandleFunc("/orgs/{id:[0-9]+}/members", h.RevokeRole).Methods(http.MethodDelete)
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := httputil.Classify(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.WithRequest(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteAppError(w, appErr, h.includeStack)
}

func callerContext(r *http.Request) (*Context, bool) {
	ac, ok := r.Context().Value(contextkeys.AuthzKey).(*Context)
	return ac, ok && ac != nil
}

func (h *Handlers) observeDecision(guard string, allowed bool) {
	if h.metrics != nil {
		h.metrics.ObserveDecision(guard, allowed)
	}
}

// requireSuperadmin gates the management surface. It writes the error
// response itself; callers just return on false.
func (h *Handlers) requireSuperadmin(w http.ResponseWriter, r *http.Request) (*Context, bool) {
	ac, ok := callerContext(r)
	if !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return nil, false
	}
	h.observeDecision("superadmin", ac.Superadmin)
	if !ac.Superadmin {
		h.respondError(w, r, &ForbiddenError{Message: "superadmin required"})
		return nil, false
	}
	return ac, true
}

// requirePermission gates an org-scoped operation, recording the decision.
func (h *Handlers) requirePermission(w http.ResponseWriter, r *http.Request, ac *Context, orgID int64, permission string) bool {
	allowed := ac.HasPermission(orgID, permission)
	h.observeDecision(permission, allowed)
	if !allowed {
		h.respondError(w, r, &ForbiddenError{Message: permission + " permission required"})
	}
	return allowed
}

type contextResponse struct {
	*Context

	// Flat unions for callers that do not care about organization scoping.
	// Permissions carries "any-org" semantics.
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// GetContext returns the caller's resolved authorization context.
func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	ac, ok := callerContext(r)
	if !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}
	httputil.WriteSuccess(w, contextResponse{
		Context:     ac,
		Roles:       ac.Roles(),
		Permissions: ac.Permissions(),
	})
}

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateRole creates a custom role. Superadmin only.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperadmin(w, r); !ok {
		return
	}

	var req roleRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	role := &Role{Name: req.Name, Description: req.Description}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		h.respondError(w, r, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// ListRoles lists all roles.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerContext(r); !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}

	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, roles)
}

type roleResponse struct {
	Role
	Permissions []string `json:"permissions"`
}

// GetRole returns a role with its permission names.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerContext(r); !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}

	roleID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	perms, err := h.store.RolePermissionsSorted(r.Context(), roleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}

	httputil.WriteSuccess(w, roleResponse{Role: *role, Permissions: perms})
}

// UpdateRole updates a role's name and description. Superadmin only.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperadmin(w, r); !ok {
		return
	}

	roleID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req roleRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	role, err := h.store.UpdateRole(r.Context(), roleID, req.Name, req.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role. Superadmin only.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperadmin(w, r); !ok {
		return
	}

	roleID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.store.DeleteRole(r.Context(), roleID); err != nil {
		h.respondError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

type permissionRequest struct {
	Name string `json:"name"`
}

// GrantPermission attaches a permission to a role. Superadmin only.
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperadmin(w, r); !ok {
		return
	}

	roleID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req permissionRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.store.GrantPermission(r.Context(), roleID, req.Name); err != nil {
		h.respondError(w, r, err)
		return
	}

	perms, err := h.store.RolePermissionsSorted(r.Context(), roleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"role_id": roleID, "permissions": perms})
}

// RevokePermission detaches a permission from a role. Superadmin only.
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperadmin(w, r); !ok {
		return
	}

	roleID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	name, err := httputil.ParsePathString(r, "name")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.store.RevokePermission(r.Context(), roleID, name); err != nil {
		h.respondError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

type orgRequest struct {
	Name string `json:"name"`
}

// CreateOrganization creates an organization in the caller's realm.
// Superadmin only.
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.requireSuperadmin(w, r)
	if !ok {
		return
	}

	var req orgRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	org := &Organization{Name: req.Name, Realm: ac.Realm}
	if err := h.store.CreateOrganization(r.Context(), org); err != nil {
		h.respondError(w, r, err)
		return
	}

	httputil.WriteCreated(w, org)
}

// ListOrganizations lists the organizations of the caller's realm that the
// caller can see. Superadmins see all of them.
func (h *Handlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	ac, ok := callerContext(r)
	if !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}

	orgs, err := h.store.ListOrganizations(r.Context(), ac.Realm)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	visible := make([]Organization, 0, len(orgs))
	for _, org := range orgs {
		if ac.CanAccessOrganization(org.ID) {
			visible = append(visible, org)
		}
	}
	httputil.WriteSuccess(w, visible)
}

// GetOrganization returns an organization the caller belongs to.
func (h *Handlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	ac, ok := callerContext(r)
	if !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}

	orgID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	allowed := ac.CanAccessOrganization(orgID)
	h.observeDecision("org_access", allowed)
	if !allowed {
		h.respondError(w, r, &ForbiddenError{Message: "not a member of this organization"})
		return
	}

	org, err := h.store.GetOrganization(r.Context(), orgID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// ListMembers lists the memberships of an organization.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	ac, ok := callerContext(r)
	if !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}

	orgID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !h.requirePermission(w, r, ac, orgID, "member:read") {
		return
	}

	members, err := h.store.ListMemberships(r.Context(), orgID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if members == nil {
		members = []Membership{}
	}
	httputil.WriteSuccess(w, members)
}

type membershipRequest struct {
	UserID string `json:"user_id"`
	RoleID int64  `json:"role_id"`
}

// AssignRole grants a role to a user inside an organization.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	ac, ok := callerContext(r)
	if !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}

	orgID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !h.requirePermission(w, r, ac, orgID, "member:invite") {
		return
	}

	var req membershipRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	m := &Membership{
		UserID:    req.UserID,
		OrgID:     orgID,
		RoleID:    req.RoleID,
		GrantedBy: ac.UserID,
	}
	if err := h.store.AssignRole(r.Context(), m); err != nil {
		h.respondError(w, r, err)
		return
	}

	httputil.WriteCreated(w, m)
}

// RevokeRole removes a role from a user inside an organization.
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	ac, ok := callerContext(r)
	if !ok {
		h.respondError(w, r, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"))
		return
	}

	orgID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !h.requirePermission(w, r, ac, orgID, "member:remove") {
		return
	}

	var req membershipRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.store.RevokeRole(r.Context(), req.UserID, orgID, req.RoleID); err != nil {
		h.respondError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}
