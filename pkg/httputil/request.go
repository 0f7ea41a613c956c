package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return &AppError{Status: http.StatusBadRequest, Code: CodeInvalidJSON, Message: "request body is not valid JSON", cause: err}
	}
	return nil
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	vars := mux.Vars(r)
	str := vars[key]
	if str == "" {
		return 0, NewAppError(http.StatusBadRequest, CodeValidationError, fmt.Sprintf("missing path parameter: %s", key))
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, NewAppError(http.StatusBadRequest, CodeValidationError, fmt.Sprintf("invalid integer for %s: %s", key, str))
	}
	return val, nil
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	vars := mux.Vars(r)
	str := vars[key]
	if str == "" {
		return "", NewAppError(http.StatusBadRequest, CodeValidationError, fmt.Sprintf("missing path parameter: %s", key))
	}
	return str, nil
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, NewAppError(http.StatusBadRequest, CodeValidationError, fmt.Sprintf("invalid integer for query param %s: %s", key, str))
	}
	return val, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}
