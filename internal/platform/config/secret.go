package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	secretScheme       = "secret://"
	legacySecretScheme = "sm://"
)

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretResolver resolves secret:// references, typically through Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError wraps a failed secret lookup with the reference that failed.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to nothing. Error() only prints
// redacted names so the message is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns short hashes of the missing field names, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// secretFields resolves secret references held by config fields and remembers what each
// field resolved to, keyed by field name.
type secretFields struct {
	resolver SecretResolver
	resolved map[string]string
}

func (s *secretFields) resolve(ctx context.Context, name string, field *string) error {
	value := strings.TrimSpace(*field)
	ref, ok := secretReference(value)
	if ok {
		if s.resolver == nil {
			return &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}
		secret, err := s.resolver.ResolveSecret(ctx, ref)
		if err != nil {
			return &SecretError{Ref: ref, Err: err}
		}
		value = secret
		*field = secret
	}
	s.resolved[name] = strings.TrimSpace(value)
	return nil
}

func (s *secretFields) missing(required []string) *MissingSecretsError {
	seen := make(map[string]bool, len(required))
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if s.resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

// secretReference reports whether value names a secret, normalising sm:// to secret://.
func secretReference(value string) (string, bool) {
	switch {
	case strings.HasPrefix(value, secretScheme):
		return value, true
	case strings.HasPrefix(value, legacySecretScheme):
		return secretScheme + strings.TrimPrefix(value, legacySecretScheme), true
	}
	return "", false
}
