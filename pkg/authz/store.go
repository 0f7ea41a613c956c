package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lib/pq"
)

// Store is the persistence surface the resolver depends on.
type Store interface {
	MembershipsForUser(ctx context.Context, userID, realm string) ([]OrgMembership, error)
	PermissionsForRole(ctx context.Context, roleID int64) ([]string, error)
}

const permCacheSize = 1024

// PostgresStore persists roles, permissions, organizations, and memberships.
// Role permission sets are cached in-process; every role mutation invalidates
// the affected entry so no request observes a stale grant.
type PostgresStore struct {
	db        *sql.DB
	permCache *lru.Cache[int64, []string]
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	cache, err := lru.New[int64, []string](permCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission cache: %w", err)
	}
	return &PostgresStore{db: db, permCache: cache}, nil
}

// MembershipsForUser returns the caller's organization entries within a
// realm, ordered by organization id then role id.
func (s *PostgresStore) MembershipsForUser(ctx context.Context, userID, realm string) ([]OrgMembership, error) {
	query := `
		SELECT o.id, o.name, r.id, r.name
		FROM memberships m
		JOIN organizations o ON o.id = m.org_id
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND o.realm = $2
		ORDER BY o.id ASC, r.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, realm)
	if err != nil {
		return nil, fmt.Errorf("failed to get memberships: %w", err)
	}
	defer rows.Close()

	var memberships []OrgMembership
	for rows.Next() {
		var m OrgMembership
		if err := rows.Scan(&m.OrgID, &m.OrgName, &m.RoleID, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// PermissionsForRole returns the sorted permission names granted to a role.
// Results are served from cache until the role is mutated.
func (s *PostgresStore) PermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	if perms, ok := s.permCache.Get(roleID); ok {
		return perms, nil
	}

	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.permCache.Add(roleID, perms)
	return perms, nil
}

// InvalidateRole drops the cached permission set for a role.
func (s *PostgresStore) InvalidateRole(roleID int64) {
	s.permCache.Remove(roleID)
}

// CreateRole creates a new role.
func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	if strings.TrimSpace(role.Name) == "" {
		return &ValidationError{Field: "name", Message: "role name is required"}
	}

	query := `
		INSERT INTO roles (name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		role.IsSystem,
		now,
		now,
	).Scan(&role.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Message: fmt.Sprintf("role already exists: %s", role.Name)}
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID.
func (s *PostgresStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, description, is_system, created_at, updated_at
		FROM roles
		WHERE id = $1
	`

	var role Role
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsSystem,
		&role.CreatedAt,
		&role.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "role", ID: strconv.FormatInt(roleID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &role, nil
}

// GetRoleByName retrieves a role by name.
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT id, name, description, is_system, created_at, updated_at
		FROM roles
		WHERE name = $1
	`

	var role Role
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsSystem,
		&role.CreatedAt,
		&role.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "role", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &role, nil
}

// ListRoles lists all roles, system roles first.
func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT id, name, description, is_system, created_at, updated_at
		FROM roles
		ORDER BY is_system DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&role.IsSystem,
			&role.CreatedAt,
			&role.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// UpdateRole updates a role's name and description. Renaming a system role
// is forbidden; its description may still change.
func (s *PostgresStore) UpdateRole(ctx context.Context, roleID int64, name, description string) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem && name != "" && name != role.Name {
		return nil, &ForbiddenError{Message: fmt.Sprintf("system role %s cannot be renamed", role.Name)}
	}
	if name == "" {
		name = role.Name
	}

	query := `
		UPDATE roles
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, name, description, now, roleID); err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Message: fmt.Sprintf("role already exists: %s", name)}
		}
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	s.InvalidateRole(roleID)

	role.Name = name
	role.Description = description
	role.UpdatedAt = now
	return role, nil
}

// DeleteRole deletes a role. System roles and roles still referenced by a
// membership are protected.
func (s *PostgresStore) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return &ForbiddenError{Message: fmt.Sprintf("system role %s cannot be deleted", role.Name)}
	}

	var refs int64
	countQuery := `SELECT COUNT(*) FROM memberships WHERE role_id = $1`
	if err := s.db.QueryRowContext(ctx, countQuery, roleID).Scan(&refs); err != nil {
		return fmt.Errorf("failed to count role memberships: %w", err)
	}
	if refs > 0 {
		return &RoleInUseError{RoleID: roleID, Memberships: refs}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to detach role permissions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	s.InvalidateRole(roleID)
	return nil
}

// GrantPermission attaches a permission to a role, creating the permission
// record on first use.
func (s *PostgresStore) GrantPermission(ctx context.Context, roleID int64, permName string) error {
	if strings.TrimSpace(permName) == "" {
		return &ValidationError{Field: "permission", Message: "permission name is required"}
	}
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	perm := Permission{Name: permName}
	perm.SplitName()

	upsert := `
		INSERT INTO permissions (name, resource, action, is_system)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, upsert, perm.Name, perm.Resource, perm.Action).Scan(&perm.ID); err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}

	attach := `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, attach, roleID, perm.ID); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	s.InvalidateRole(roleID)
	return nil
}

// RevokePermission detaches a permission from a role.
func (s *PostgresStore) RevokePermission(ctx context.Context, roleID int64, permName string) error {
	query := `
		DELETE FROM role_permissions
		WHERE role_id = $1
		  AND permission_id = (SELECT id FROM permissions WHERE name = $2)
	`
	if _, err := s.db.ExecContext(ctx, query, roleID, permName); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	s.InvalidateRole(roleID)
	return nil
}

// AssignRole creates a membership. Assigning the same role twice in the same
// organization is a conflict.
func (s *PostgresStore) AssignRole(ctx context.Context, m *Membership) error {
	if strings.TrimSpace(m.UserID) == "" {
		return &ValidationError{Field: "user_id", Message: "user id is required"}
	}

	query := `
		INSERT INTO memberships (user_id, org_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		m.UserID,
		m.OrgID,
		m.RoleID,
		m.GrantedBy,
		now,
	).Scan(&m.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Message: fmt.Sprintf("user %s already holds role %d in organization %d", m.UserID, m.RoleID, m.OrgID)}
		}
		if isForeignKeyViolation(err) {
			return &NotFoundError{Kind: "organization or role", ID: fmt.Sprintf("org=%d role=%d", m.OrgID, m.RoleID)}
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}

	m.GrantedAt = now
	return nil
}

// RevokeRole removes a membership by its triple.
func (s *PostgresStore) RevokeRole(ctx context.Context, userID string, orgID, roleID int64) error {
	query := `DELETE FROM memberships WHERE user_id = $1 AND org_id = $2 AND role_id = $3`
	res, err := s.db.ExecContext(ctx, query, userID, orgID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "membership", ID: fmt.Sprintf("user=%s org=%d role=%d", userID, orgID, roleID)}
	}
	return nil
}

// CreateOrganization creates a new organization inside a realm.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if strings.TrimSpace(org.Name) == "" {
		return &ValidationError{Field: "name", Message: "organization name is required"}
	}
	if strings.TrimSpace(org.Realm) == "" {
		return &ValidationError{Field: "realm", Message: "realm is required"}
	}

	query := `
		INSERT INTO organizations (name, realm, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query, org.Name, org.Realm, now).Scan(&org.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Message: fmt.Sprintf("organization already exists: %s", org.Name)}
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	org.CreatedAt = now
	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *PostgresStore) GetOrganization(ctx context.Context, orgID int64) (*Organization, error) {
	query := `
		SELECT id, name, realm, created_at
		FROM organizations
		WHERE id = $1
	`

	var org Organization
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(&org.ID, &org.Name, &org.Realm, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "organization", ID: strconv.FormatInt(orgID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// ListOrganizations lists the organizations of a realm sorted by id.
func (s *PostgresStore) ListOrganizations(ctx context.Context, realm string) ([]Organization, error) {
	query := `
		SELECT id, name, realm, created_at
		FROM organizations
		WHERE realm = $1
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, realm)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Realm, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	return orgs, rows.Err()
}

// ListMemberships lists the memberships of an organization, newest first.
func (s *PostgresStore) ListMemberships(ctx context.Context, orgID int64) ([]Membership, error) {
	query := `
		SELECT id, user_id, org_id, role_id, COALESCE(granted_by, ''), granted_at
		FROM memberships
		WHERE org_id = $1
		ORDER BY granted_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrgID, &m.RoleID, &m.GrantedBy, &m.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// RolePermissionsSorted is a convenience wrapper used by handlers to expose
// a role with its permission names.
func (s *PostgresStore) RolePermissionsSorted(ctx context.Context, roleID int64) ([]string, error) {
	perms, err := s.PermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(perms))
	copy(out, perms)
	sort.Strings(out)
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
