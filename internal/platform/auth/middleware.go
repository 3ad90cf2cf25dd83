package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Arpitray/commerce/internal/platform/httpx"
)

const (
	standardEmailClaim  = "email"
	standardLocaleClaim = "locale"
	defaultVerifyBudget = 5 * time.Second
)

// Authenticator resolves the bearer token on cart requests into an Identity.
type Authenticator struct {
	verifier    TokenVerifier
	emailClaim  string
	localeClaim string
	timeout     time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithEmailClaim reads the email from a custom claim before the standard one.
func WithEmailClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.emailClaim = claim
		}
	}
}

// WithLocaleClaim reads the locale from a custom claim before the standard one.
func WithLocaleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.localeClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each verifier call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:    verifier,
		emailClaim:  standardEmailClaim,
		localeClaim: standardLocaleClaim,
		timeout:     defaultVerifyBudget,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireFirebaseAuth() func(http.Handler) http.Handler {
	return a.middleware(true)
}

// OptionalFirebaseAuth lets anonymous requests through but still rejects a bad token, so a
// shopper with an expired session is told to sign in again rather than silently shown an
// empty cart.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return a.middleware(false)
}

func (a *Authenticator) middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				if required {
					httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "bearer token required", http.StatusUnauthorized))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			identity, err := a.authenticate(r.Context(), raw)
			if err != nil {
				httpx.WriteError(r.Context(), w, verificationError(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, raw string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, ErrVerifierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if token == nil || strings.TrimSpace(token.UID) == "" {
		return nil, ErrTokenInvalid
	}
	return identityFromToken(token, a.emailClaim, a.localeClaim), nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func verificationError(err error) httpx.Error {
	switch {
	case errors.Is(err, ErrVerifierUnavailable):
		return httpx.NewError("auth_unavailable", "sign-in is temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, ErrTokenExpired):
		return httpx.NewError("token_expired", "id token expired", http.StatusUnauthorized)
	case errors.Is(err, ErrTokenRevoked):
		return httpx.NewError("token_revoked", "session was signed out", http.StatusUnauthorized)
	default:
		return httpx.NewError("invalid_token", "id token invalid", http.StatusUnauthorized)
	}
}
