package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the signed-in shopper a cart belongs to.
type Identity struct {
	UID    string
	Email  string
	Locale string

	token *firebaseauth.Token
}

// NewIdentity builds an identity that is not backed by a verified token, as the CLI and the
// in-process watcher do.
func NewIdentity(uid, email string) *Identity {
	return &Identity{UID: strings.TrimSpace(uid), Email: strings.TrimSpace(email)}
}

// Token is the decoded ID token, nil for identities built with NewIdentity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// identityFromToken reads profile claims, preferring the named claims and falling back to the
// standard ones when those are absent.
func identityFromToken(token *firebaseauth.Token, emailClaim, localeClaim string) *Identity {
	return &Identity{
		UID:    strings.TrimSpace(token.UID),
		Email:  firstClaim(token.Claims, emailClaim, standardEmailClaim),
		Locale: firstClaim(token.Claims, localeClaim, standardLocaleClaim),
		token:  token,
	}
}

func firstClaim(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := claims[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity attached by the auth middleware or the CLI.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
