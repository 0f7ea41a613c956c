package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all authorization schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					realm VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(realm, name)
				);

				CREATE INDEX idx_organizations_realm ON organizations(realm);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					resource VARCHAR(255) NOT NULL,
					action VARCHAR(255) NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX idx_roles_is_system ON roles(is_system);
				CREATE INDEX idx_permissions_resource ON permissions(resource);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					granted_by VARCHAR(255),
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, org_id, role_id)
				);

				CREATE INDEX idx_memberships_user_id ON memberships(user_id);
				CREATE INDEX idx_memberships_org_id ON memberships(org_id);
				CREATE INDEX idx_memberships_role_id ON memberships(role_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to read migration versions: %w", err)
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// SystemRoles returns the role definitions seeded at startup. Permission
// names follow the resource:action convention.
func SystemRoles() map[string][]string {
	return map[string][]string{
		"org-admin": {
			"organization:read", "organization:update",
			"member:read", "member:invite", "member:remove", "member:update_role",
			"role:read",
			"audit:read",
		},
		"org-editor": {
			"organization:read",
			"member:read",
			"role:read",
		},
		"org-viewer": {
			"organization:read",
			"member:read",
		},
	}
}

// InitializeSystemRoles seeds the system roles and their permission grants.
// Safe to call on every startup.
func InitializeSystemRoles(ctx context.Context, store *PostgresStore) error {
	for name, perms := range SystemRoles() {
		role, err := store.GetRoleByName(ctx, name)
		if err != nil {
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				return fmt.Errorf("failed to look up system role %s: %w", name, err)
			}
			role = &Role{Name: name, IsSystem: true}
			if err := store.CreateRole(ctx, role); err != nil {
				return fmt.Errorf("failed to create system role %s: %w", name, err)
			}
		}

		for _, perm := range perms {
			if err := store.GrantPermission(ctx, role.ID, perm); err != nil {
				return fmt.Errorf("failed to grant %s to %s: %w", perm, name, err)
			}
		}
	}

	return nil
}
