package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrMissingBearer is returned when a request carries no bearer token
var ErrMissingBearer = errors.New("missing bearer token")

// ParseJSON decodes JSON from the request body into the destination. An
// empty body decodes to the zero value.
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingBearer
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("invalid authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}

// Validator checks one field and returns a message when it is invalid
type Validator func() string

// RequireNonEmpty fails when value is blank
func RequireNonEmpty(field, value string) Validator {
	return func() string {
		if strings.TrimSpace(value) == "" {
			return field + " is required"
		}
		return ""
	}
}

// ValidateAll runs validators in order and writes a 400 for the first
// failure. It reports whether everything passed.
func ValidateAll(w http.ResponseWriter, validators ...Validator) bool {
	for _, v := range validators {
		if msg := v(); msg != "" {
			WriteBadRequest(w, msg)
			return false
		}
	}
	return true
}
