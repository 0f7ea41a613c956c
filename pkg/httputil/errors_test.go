package httputil_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellanhq/castellan/pkg/authz"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/token"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &authz.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest, httputil.CodeValidationError},
		{"not found", &authz.NotFoundError{Kind: "role", ID: "7"}, http.StatusNotFound, httputil.CodeNotFound},
		{"conflict", &authz.ConflictError{Message: "duplicate"}, http.StatusConflict, httputil.CodeDuplicateEntry},
		{"forbidden", &authz.ForbiddenError{Message: "nope"}, http.StatusForbidden, httputil.CodeForbidden},
		{"role in use", &authz.RoleInUseError{RoleID: 7, Memberships: 2}, http.StatusBadRequest, httputil.CodeRoleInUse},
		{"invalid token", fmt.Errorf("wrap: %w", token.ErrInvalidToken), http.StatusUnauthorized, httputil.CodeUnauthorized},
		{"invalid token format", token.ErrInvalidTokenFormat, http.StatusUnauthorized, httputil.CodeUnauthorized},
		{"bad json", &json.SyntaxError{}, http.StatusBadRequest, httputil.CodeInvalidJSON},
		{"no rows", sql.ErrNoRows, http.StatusNotFound, httputil.CodeNotFound},
		{"unknown", errors.New("something odd"), http.StatusInternalServerError, httputil.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := httputil.Classify(tt.err)
			assert.Equal(t, tt.wantStatus, appErr.Status)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

// teapotError exercises the StatusCoder path without pulling in a domain
// package.
type teapotError struct{}

func (teapotError) Error() string     { return "short and stout" }
func (teapotError) HTTPStatus() int   { return http.StatusTeapot }
func (teapotError) ErrorCode() string { return "TEAPOT" }

func TestClassify_StatusCoder(t *testing.T) {
	appErr := httputil.Classify(fmt.Errorf("brew: %w", teapotError{}))
	assert.Equal(t, http.StatusTeapot, appErr.Status)
	assert.Equal(t, "TEAPOT", appErr.Code)
	assert.Equal(t, "brew: short and stout", appErr.Message)
}

func TestClassify_WrappedErrorsUnwrap(t *testing.T) {
	inner := &authz.ForbiddenError{Message: "system role org-admin cannot be deleted"}
	wrapped := fmt.Errorf("delete role: %w", inner)

	appErr := httputil.Classify(wrapped)
	assert.Equal(t, http.StatusForbidden, appErr.Status)
	assert.ErrorIs(t, appErr, error(inner))
}

func TestClassify_PassesThroughAppErrors(t *testing.T) {
	original := httputil.NewAppError(http.StatusBadRequest, httputil.CodeImmutableRecord, "audit records are immutable")
	assert.Same(t, original, httputil.Classify(original))
}

func TestClassify_InternalErrorHidesCause(t *testing.T) {
	appErr := httputil.Classify(errors.New("pq: connection refused to 10.0.0.5"))
	assert.Equal(t, "internal server error", appErr.Message)
}

func TestWriteAppError(t *testing.T) {
	t.Run("client error has no stack", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httputil.WriteAppError(rec, httputil.NewAppError(http.StatusConflict, httputil.CodeDuplicateEntry, "duplicate"), true)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var envelope httputil.ErrorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		assert.False(t, envelope.Success)
		assert.Equal(t, httputil.CodeDuplicateEntry, envelope.Error)
		assert.Empty(t, envelope.Stack)
	})

	t.Run("server error with stack enabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httputil.WriteAppError(rec, httputil.NewAppError(http.StatusInternalServerError, httputil.CodeInternalError, "boom"), true)

		var envelope httputil.ErrorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		assert.NotEmpty(t, envelope.Stack)
	})

	t.Run("server error with stack disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httputil.WriteAppError(rec, httputil.NewAppError(http.StatusInternalServerError, httputil.CodeInternalError, "boom"), false)

		var envelope httputil.ErrorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		assert.Empty(t, envelope.Stack)
	})
}
