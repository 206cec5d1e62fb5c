package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// CredentialPrefix identifies meter credentials
	CredentialPrefix = "ccp_"
	// CredentialBytes is the amount of randomness per credential (256 bits)
	CredentialBytes = 32
)

// CredentialGenerator issues and checks account credentials
type CredentialGenerator struct {
	random func([]byte) (int, error)
}

// NewCredentialGenerator creates a generator backed by crypto/rand
func NewCredentialGenerator() *CredentialGenerator {
	return &CredentialGenerator{random: rand.Read}
}

// Generate creates a new credential.
// Format: ccp_<hex(32 random bytes)>
func (g *CredentialGenerator) Generate() (credential string, credentialHash string, err error) {
	buf := make([]byte, CredentialBytes)
	if _, err := g.random(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	credential = CredentialPrefix + hex.EncodeToString(buf)
	return credential, HashCredential(credential), nil
}

// HashCredential computes the SHA256 index key of a credential
func HashCredential(credential string) string {
	hash := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(hash[:])
}

// ValidateFormat checks if a credential is shaped like one we issued
func ValidateFormat(credential string) error {
	if !strings.HasPrefix(credential, CredentialPrefix) {
		return fmt.Errorf("credential must start with %q", CredentialPrefix)
	}

	encoded := strings.TrimPrefix(credential, CredentialPrefix)
	if len(encoded) != CredentialBytes*2 {
		return fmt.Errorf("credential has wrong length")
	}
	if _, err := hex.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid credential encoding: %w", err)
	}

	return nil
}

// Equal compares two credentials in constant time
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DisplayPrefix returns a log-safe prefix of a credential
func DisplayPrefix(credential string) string {
	if !strings.HasPrefix(credential, CredentialPrefix) {
		return ""
	}

	encoded := strings.TrimPrefix(credential, CredentialPrefix)
	if len(encoded) >= 8 {
		return CredentialPrefix + encoded[:8]
	}
	return CredentialPrefix
}
