package authz

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func roleRow(id int64, name string, isSystem bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "name", "description", "is_system", "created_at", "updated_at"}).
		AddRow(id, name, "", isSystem, now, now)
}

func TestStore_MembershipsForUser(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"org_id", "org_name", "role_id", "role_name"}).
		AddRow(int64(1), "alpha", int64(10), "org-admin").
		AddRow(int64(2), "beta", int64(11), "org-viewer")
	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("user-1", "acme").
		WillReturnRows(rows)

	memberships, err := store.MembershipsForUser(context.Background(), "user-1", "acme")
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, "alpha", memberships[0].OrgName)
	assert.Equal(t, "org-viewer", memberships[1].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PermissionsForRole_Cached(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM role_permissions").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("member:read").AddRow("organization:read"))

	first, err := store.PermissionsForRole(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"member:read", "organization:read"}, first)

	// Second call is served from cache; no further query expected.
	second, err := store.PermissionsForRole(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PermissionsForRole_InvalidationForcesReload(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM role_permissions").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("member:read"))

	_, err := store.PermissionsForRole(ctx, 10)
	require.NoError(t, err)

	store.InvalidateRole(10)

	mock.ExpectQuery("SELECT (.+) FROM role_permissions").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("member:read").AddRow("member:invite"))

	perms, err := store.PermissionsForRole(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"member:read", "member:invite"}, perms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRole(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO roles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	role := &Role{Name: "auditor"}
	require.NoError(t, store.CreateRole(context.Background(), role))
	assert.Equal(t, int64(5), role.ID)
	assert.False(t, role.CreatedAt.IsZero())
}

func TestStore_CreateRole_EmptyName(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.CreateRole(context.Background(), &Role{Name: "   "})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestStore_CreateRole_Duplicate(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO roles").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateRole(context.Background(), &Role{Name: "auditor"})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestStore_UpdateRole_SystemRename(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles").
		WithArgs(int64(1)).
		WillReturnRows(roleRow(1, "org-admin", true))

	_, err := store.UpdateRole(context.Background(), 1, "renamed", "new description")
	var forbiddenErr *ForbiddenError
	require.ErrorAs(t, err, &forbiddenErr)
}

func TestStore_UpdateRole_SystemDescriptionAllowed(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles").
		WithArgs(int64(1)).
		WillReturnRows(roleRow(1, "org-admin", true))
	mock.ExpectExec("UPDATE roles").
		WillReturnResult(sqlmock.NewResult(0, 1))

	role, err := store.UpdateRole(context.Background(), 1, "", "clarified")
	require.NoError(t, err)
	assert.Equal(t, "org-admin", role.Name)
	assert.Equal(t, "clarified", role.Description)
}

func TestStore_DeleteRole_System(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles").
		WithArgs(int64(1)).
		WillReturnRows(roleRow(1, "org-admin", true))

	err := store.DeleteRole(context.Background(), 1)
	var forbiddenErr *ForbiddenError
	require.ErrorAs(t, err, &forbiddenErr)
}

func TestStore_DeleteRole_InUse(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles").
		WithArgs(int64(7)).
		WillReturnRows(roleRow(7, "custom", false))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	err := store.DeleteRole(context.Background(), 7)
	var inUseErr *RoleInUseError
	require.ErrorAs(t, err, &inUseErr)
	assert.Equal(t, int64(3), inUseErr.Memberships)
}

func TestStore_DeleteRole_Unreferenced(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles").
		WithArgs(int64(7)).
		WillReturnRows(roleRow(7, "custom", false))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectExec("DELETE FROM role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM roles").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.DeleteRole(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AssignRole(t *testing.T) {
	store, mock := newTestStore(t)

	// Same user and org as an existing membership, different role: the
	// uniqueness key is the full triple, so this insert succeeds.
	mock.ExpectQuery("INSERT INTO memberships").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	m := &Membership{UserID: "user-1", OrgID: 1, RoleID: 11}
	require.NoError(t, store.AssignRole(context.Background(), m))
	assert.Equal(t, int64(12), m.ID)
	assert.False(t, m.GrantedAt.IsZero())
}

func TestStore_AssignRole_DuplicateTriple(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO memberships").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.AssignRole(context.Background(), &Membership{UserID: "user-1", OrgID: 1, RoleID: 10})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestStore_AssignRole_MissingReference(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO memberships").
		WillReturnError(&pq.Error{Code: "23503"})

	err := store.AssignRole(context.Background(), &Membership{UserID: "user-1", OrgID: 99, RoleID: 10})
	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}

func TestStore_RevokeRole_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM memberships").
		WithArgs("user-1", int64(1), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RevokeRole(context.Background(), "user-1", 1, 10)
	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}

func TestStore_GetRole_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "is_system", "created_at", "updated_at"}))

	_, err := store.GetRole(context.Background(), 404)
	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}
