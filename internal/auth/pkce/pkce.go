// Package pkce generates the Proof Key for Code Exchange parameters (RFC 7636) used by
// every OAuth attempt: a high-entropy code verifier, its S256 code challenge and a CSRF
// state token. Values come only from a cryptographically secure source; when that source
// fails the error is returned and nothing weaker is tried.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

const (
	// Charset is the RFC 7636 unreserved character set.
	Charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

	// VerifierLength is the fixed length of generated code verifiers (the RFC maximum).
	VerifierLength = 128
	// StateLength is the length of generated CSRF state tokens.
	StateLength = 32
)

// Params is one OAuth attempt's PKCE material. It must never be reused.
type Params struct {
	CodeVerifier  string
	CodeChallenge string
	State         string
}

// Generator draws PKCE values from Reader. The zero value uses crypto/rand.
type Generator struct {
	Reader io.Reader
}

var defaultGenerator Generator

// Generate returns fresh verifier, challenge and state values.
func Generate() (*Params, error) { return defaultGenerator.Generate() }

// GenerateVerifier returns a 128 character code verifier.
func GenerateVerifier() (string, error) { return defaultGenerator.GenerateVerifier() }

// RandomState returns a state token of the given length.
func RandomState(length int) (string, error) { return defaultGenerator.RandomString(length) }

// ChallengeFromVerifier computes base64url(SHA-256(verifier)) without padding.
func ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Generate returns fresh verifier, challenge and state values.
func (g Generator) Generate() (*Params, error) {
	verifier, err := g.GenerateVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := g.RandomString(StateLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	return &Params{
		CodeVerifier:  verifier,
		CodeChallenge: ChallengeFromVerifier(verifier),
		State:         state,
	}, nil
}

// GenerateVerifier returns a 128 character code verifier.
func (g Generator) GenerateVerifier() (string, error) {
	return g.RandomString(VerifierLength)
}

// RandomString draws length characters uniformly from Charset.
func (g Generator) RandomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("pkce: invalid length %d", length)
	}
	reader := g.Reader
	if reader == nil {
		reader = rand.Reader
	}
	limit := big.NewInt(int64(len(Charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(reader, limit)
		if err != nil {
			return "", fmt.Errorf("pkce: secure random source unavailable: %w", err)
		}
		out[i] = Charset[n.Int64()]
	}
	return string(out), nil
}
