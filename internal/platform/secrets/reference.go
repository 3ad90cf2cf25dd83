package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// reference is a parsed secret://name?version=N&project=P. The legacy sm:// prefix is accepted.
type reference struct {
	name    string
	version string
	project string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: reference %q names no secret", raw)
	}
	q := u.Query()
	return reference{
		name:    name,
		version: strings.TrimSpace(q.Get("version")),
		project: strings.TrimSpace(q.Get("project")),
	}, nil
}

func (r reference) canonical() string { return "secret://" + r.name }

// cacheKey identifies one version of one secret; an unpinned reference means latest.
func (r reference) cacheKey() string {
	v := r.version
	if v == "" {
		v = latestVersion
	}
	return r.canonical() + "#" + v
}

func (r reference) resourceName(defaultProject string) (string, bool) {
	project := r.project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return "", false
	}
	v := r.version
	if v == "" {
		v = latestVersion
	}
	return "projects/" + project + "/secrets/" + r.name + "/versions/" + v, true
}

// redacted is what logs and metric attributes carry instead of the secret name.
func (r reference) redacted() string {
	sum := sha256.Sum256([]byte(r.canonical()))
	return hex.EncodeToString(sum[:8])
}
