package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/storage/memory"
	"github.com/platinummonkey/meter/pkg/tiers"
)

type failingResolver struct{}

func (failingResolver) ResolveCredential(context.Context, string) (*accounts.Account, error) {
	return nil, errors.New("connection refused")
}

func newService(t *testing.T) *accounts.Service {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return accounts.NewService(memory.NewStore(), tiers.DefaultTable(), accounts.ServiceConfig{}, logger)
}

func TestAccountAuth(t *testing.T) {
	service := newService(t)
	acct, _, err := service.CreateAccount(context.Background(), "user-1", "user-1@example.com", "User One")
	require.NoError(t, err)

	var seen *accounts.Account
	var seenUserID string
	handler := AccountAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AccountFromContext(r.Context())
		seenUserID = observability.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid credential", "Bearer " + acct.Credential, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + acct.Credential, http.StatusUnauthorized},
		{"malformed credential", "Bearer not-a-key", http.StatusUnauthorized},
		{"unknown credential", "Bearer ccp_0000000000000000000000000000000000000000000000000000000000000000", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, seenUserID = nil, ""
			r := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "user-1", seen.UserID)
				assert.Equal(t, "user-1", seenUserID)
				return
			}
			assert.Nil(t, seen)
			assert.Contains(t, w.Body.String(), "InvalidCredential")
		})
	}
}

func TestAccountAuth_ResolverFailure(t *testing.T) {
	handler := AccountAuth(failingResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer ccp_anything")
	r = r.WithContext(observability.WithLogger(r.Context(), observability.NewLogger(observability.ErrorLevel, io.Discard)))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAccountFromContext_Empty(t *testing.T) {
	acct, ok := AccountFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, acct)
}

func TestInternalToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		configured string
		header     string
		value      string
		wantStatus int
	}{
		{"header match", "s3cret", InternalTokenHeader, "s3cret", http.StatusNoContent},
		{"bearer match", "s3cret", "Authorization", "Bearer s3cret", http.StatusNoContent},
		{"wrong token", "s3cret", InternalTokenHeader, "guess", http.StatusUnauthorized},
		{"prefix of token", "s3cret", InternalTokenHeader, "s3c", http.StatusUnauthorized},
		{"missing", "s3cret", "", "", http.StatusUnauthorized},
		{"unconfigured", "", InternalTokenHeader, "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/usage/reset", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			r = r.WithContext(observability.WithLogger(r.Context(), observability.NewLogger(observability.ErrorLevel, io.Discard)))
			w := httptest.NewRecorder()

			InternalToken(tt.configured)(ok).ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
