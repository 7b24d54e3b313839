// Package auth resolves bearer credentials to user identities. The service
// does not own accounts; tokens are minted elsewhere and presented on every
// request. The static verifier covers deployments that pin tokens in
// configuration, and the Verifier seam is where a real identity provider
// slots in.
package auth

import (
	"context"
	"strings"

	"github.com/caseloom/caseloom/internal/config"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

// Verifier resolves a bearer token to an identity. Implementations return a
// classified auth error for unknown or missing tokens.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// StaticVerifier resolves tokens against a fixed token-to-user map.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier copies the given token map.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	copied := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		if token == "" || userID == "" {
			continue
		}
		copied[token] = userID
	}
	return &StaticVerifier{tokens: copied}
}

// FromConfig builds the verifier the auth configuration describes.
func FromConfig(cfg config.AuthConfig) *StaticVerifier {
	return NewStaticVerifier(cfg.Tokens)
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, clerrors.AuthError("missing bearer token").Build()
	}
	userID, ok := v.tokens[token]
	if !ok {
		return Identity{}, clerrors.AuthError("invalid bearer token").Build()
	}
	return Identity{UserID: userID}, nil
}

// ParseBearer extracts the token from an Authorization header value. The
// scheme comparison is case-insensitive per RFC 7235.
func ParseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
