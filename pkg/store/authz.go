package store

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 4096
	pbkdf2KeyLength  = 32
)

type tokenContextKey struct{}

// WithEditToken attaches the bearer token a client presented at connect
// time to ctx, so it survives through to EnsureCanEdit. The connection
// adapter is expected to call this once per inbound request before handing
// ctx to the coordinator.
func WithEditToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

func editTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// TokenAuthorizer is a minimal stand-in for the out-of-scope identity and
// authorization service named in §6: it verifies an HMAC-signed edit token
// rather than looking up real user roles/permissions. A production
// deployment replaces this with a call into its own policy service; the
// EnsureCanEdit contract is what matters to the collaboration core, not
// this implementation.
type TokenAuthorizer struct {
	secret []byte
}

// NewTokenAuthorizer derives a signing key from passphrase+salt the same
// way a password-based key derivation would, so the secret is never stored
// or transmitted directly.
func NewTokenAuthorizer(passphrase string, salt []byte) *TokenAuthorizer {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	return &TokenAuthorizer{secret: key}
}

// IssueEditToken produces the token a client must present to edit pageID as
// userID. In a real deployment this would be minted by the out-of-scope
// auth service, not by the collaboration core itself.
func (a *TokenAuthorizer) IssueEditToken(userID, pageID string) string {
	return hex.EncodeToString(a.sign(userID, pageID))
}

func (a *TokenAuthorizer) sign(userID, pageID string) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID + ":" + pageID + ":edit"))
	return mac.Sum(nil)
}

// EnsureCanEdit implements both collab.Authorizer and the store.Authorizer
// contract: it reads the bearer token WithEditToken placed on ctx and
// verifies it against the expected signature for (userID, pageID). Per the
// design notes, it performs no caching -- every call reverifies.
func (a *TokenAuthorizer) EnsureCanEdit(ctx context.Context, userID, pageID string) error {
	token, ok := editTokenFromContext(ctx)
	if !ok {
		return ErrForbidden
	}

	want := a.sign(userID, pageID)
	got, err := hex.DecodeString(token)
	if err != nil {
		return ErrForbidden
	}
	if !hmac.Equal(want, got) {
		return ErrForbidden
	}
	return nil
}
