package authz

import (
	"fmt"
	"net/http"

	"github.com/castellanhq/castellan/pkg/httputil"
)

// Every error type here implements httputil.StatusCoder so the response
// boundary can map it without importing this package.

// ValidationError reports rejected input (missing name, bad permission
// format). Maps to HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func (e *ValidationError) HTTPStatus() int   { return http.StatusBadRequest }
func (e *ValidationError) ErrorCode() string { return httputil.CodeValidationError }

// NotFoundError reports a missing role, organization, or membership. Maps to
// HTTP 404.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) HTTPStatus() int   { return http.StatusNotFound }
func (e *NotFoundError) ErrorCode() string { return httputil.CodeNotFound }

// ConflictError reports a uniqueness violation (duplicate role name,
// duplicate membership triple). Maps to HTTP 409.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) HTTPStatus() int   { return http.StatusConflict }
func (e *ConflictError) ErrorCode() string { return httputil.CodeDuplicateEntry }

// ForbiddenError reports an operation denied by policy, such as renaming or
// deleting a system role. Maps to HTTP 403.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func (e *ForbiddenError) HTTPStatus() int   { return http.StatusForbidden }
func (e *ForbiddenError) ErrorCode() string { return httputil.CodeForbidden }

// RoleInUseError reports a role deletion blocked by existing memberships.
// Maps to HTTP 400.
type RoleInUseError struct {
	RoleID      int64
	Memberships int64
}

func (e *RoleInUseError) Error() string {
	return fmt.Sprintf("role %d is assigned to %d membership(s) and cannot be deleted", e.RoleID, e.Memberships)
}

func (e *RoleInUseError) HTTPStatus() int   { return http.StatusBadRequest }
func (e *RoleInUseError) ErrorCode() string { return httputil.CodeRoleInUse }
