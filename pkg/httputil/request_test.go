package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createRequest struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    createRequest
		wantErr bool
	}{
		{"valid", `{"uid":"u1","email":"a@example.com"}`, createRequest{UID: "u1", Email: "a@example.com"}, false},
		{"empty body", ``, createRequest{}, false},
		{"malformed", `{"uid":`, createRequest{}, true},
		{"wrong type", `{"uid":42}`, createRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var got createRequest
			err := ParseJSON(r, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))

	var dest createRequest
	assert.False(t, ParseJSONOrError(w, r, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON")
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer ccp_abc", "ccp_abc", false},
		{"bearer ccp_abc", "ccp_abc", false},
		{"Bearer   ccp_abc  ", "ccp_abc", false},
		{"", "", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
		{"Basic dXNlcjpwYXNz", "", true},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}

		got, err := BearerToken(r)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		assert.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidateAll(t *testing.T) {
	w := httptest.NewRecorder()
	ok := ValidateAll(w,
		RequireNonEmpty("uid", "user-1"),
		RequireNonEmpty("email", "  "),
		RequireNonEmpty("displayName", ""),
	)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "email is required")
	assert.NotContains(t, w.Body.String(), "displayName")
}

func TestValidateAll_Success(t *testing.T) {
	w := httptest.NewRecorder()

	assert.True(t, ValidateAll(w, RequireNonEmpty("uid", "user-1")))
	assert.Equal(t, http.StatusOK, w.Code)
}
