package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Key identifies one client-supplied idempotency key. Keys are scoped per user, so two shoppers
// sending the same header value never collide.
type Key struct {
	UserID      string
	Value       string
	Fingerprint string
}

// ID returns the storage identifier of the key. The fingerprint is not part of it: a reused key
// with a different request must find the earlier reservation to be rejected.
func (k Key) ID() string {
	sum := sha256.Sum256([]byte(k.UserID + "\x00" + k.Value))
	return hex.EncodeToString(sum[:])
}

// Outcome is the result of reserving a key.
type Outcome int

const (
	// Acquired means the caller owns the key and must run the request.
	Acquired Outcome = iota
	// Replay means an earlier response is stored and must be sent back unchanged.
	Replay
	// InFlight means another request with the same key has not finished yet.
	InFlight
)

// Reservation carries the outcome and, for Replay, the stored response.
type Reservation struct {
	Outcome   Outcome
	Response  Response
	ExpiresAt time.Time
}

// Response is the part of an HTTP response kept for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and completed responses.
type Store interface {
	// Reserve claims key, or reports the stored or in-flight state of an earlier claim.
	// Expired records are treated as absent.
	Reserve(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Reservation, error)
	// Complete stores resp for key and extends its expiry to now+ttl.
	Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error
	// Release drops the reservation so the client may retry.
	Release(ctx context.Context, key Key) error
	// CleanupExpired removes up to limit expired records and reports how many went.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

var hopByHop = map[string]bool{
	"Connection":          true,
	"Content-Length":      true,
	"Date":                true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// replayableHeaders drops headers that describe the original connection rather than the response.
func replayableHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if hopByHop[name] {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func cloneBody(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	return append([]byte(nil), body...)
}
