package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-net/agora/pkg/authz"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusTeapot, map[string]int{"n": 7}))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":7}`, rec.Body.String())
}

func TestWriteHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBadRequest(rec, "bad input")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad input", decodeError(t, rec))

	rec = httptest.NewRecorder()
	WriteNotFound(rec, "gone")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	WriteForbidden(rec, "no")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	WriteNoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWriteInternalErrorHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternalError(rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeError(t, rec))
}

func TestWriteDomainError(t *testing.T) {
	id := uuid.New()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"denial", &authz.DenialError{Op: authz.PermEdit, EntityID: id, Required: authz.RoleOwner}, http.StatusForbidden},
		{"wrapped denial", fmt.Errorf("saving: %w", &authz.DenialError{Op: authz.PermView, EntityID: id, Required: authz.RoleNetwork}), http.StatusForbidden},
		{"validation", &authz.ValidationError{Field: "name", Reason: "empty"}, http.StatusBadRequest},
		{"not found", authz.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("loading: %w", authz.ErrNotFound), http.StatusNotFound},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteDomainError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	// The denial message names the operation; internal causes stay hidden
	rec := httptest.NewRecorder()
	WriteDomainError(rec, &authz.DenialError{Op: authz.PermEdit, EntityID: id, Required: authz.RoleOwner})
	assert.Contains(t, decodeError(t, rec), "edit")

	rec = httptest.NewRecorder()
	WriteDomainError(rec, errors.New("disk on fire"))
	assert.NotContains(t, decodeError(t, rec), "disk")
}
