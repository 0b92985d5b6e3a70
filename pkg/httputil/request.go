package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into the given destination
func ParseJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes the request body and writes a 400 response on
// failure. Returns false if decoding failed and a response was written.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := ParseJSON(r, dst); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathUUID extracts a UUID path variable from the request
func ParsePathUUID(r *http.Request, name string) (uuid.UUID, error) {
	vars := mux.Vars(r)
	raw, ok := vars[name]
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("missing path parameter %q", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid path parameter %q: %w", name, err)
	}
	return id, nil
}

// ParsePathUUIDOrError extracts a UUID path variable and writes a 400
// response on failure. Returns uuid.Nil and false if a response was written.
func ParsePathUUIDOrError(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := ParsePathUUID(r, name)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// ParseQueryInt extracts an integer query parameter with a default
func ParseQueryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// ParseQueryUUID extracts an optional UUID query parameter; nil if absent
func ParseQueryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid query parameter %q: %w", name, err)
	}
	return &id, nil
}

// ParsePagination extracts limit/offset query parameters with bounds
func ParsePagination(r *http.Request, defLimit, maxLimit int) (limit, offset int) {
	limit = ParseQueryInt(r, "limit", defLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defLimit
	}
	offset = ParseQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
