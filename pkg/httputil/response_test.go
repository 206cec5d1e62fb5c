package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusForbidden, "SubscriptionInactive", "subscription is not active")

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "SubscriptionInactive", body.Error)
	assert.Equal(t, "subscription is not active", body.Message)
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteSuccess(w, map[string]bool{"ok": true}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "uid is required") }, http.StatusBadRequest, CodeBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "InvalidCredential", "bad key") }, http.StatusUnauthorized, "InvalidCredential"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, CodeForbidden, "no") }, http.StatusForbidden, CodeForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "account not found") }, http.StatusNotFound, CodeNotFound},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "LimitExceeded", "limit") }, http.StatusTooManyRequests, "LimitExceeded"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error)
		})
	}
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()

	WriteServiceUnavailable(w, "try again", 2)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, CodeServiceUnavailable, decodeError(t, w).Error)

	w = httptest.NewRecorder()
	WriteServiceUnavailable(w, "try again", 0)
	assert.Empty(t, w.Header().Get("Retry-After"))
}
