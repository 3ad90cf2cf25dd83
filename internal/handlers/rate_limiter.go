package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Arpitray/commerce/internal/platform/auth"
	"github.com/Arpitray/commerce/internal/platform/httpx"
)

// mutationLimiter gives each user a token bucket of limit cart mutations that refills evenly
// over window.
type mutationLimiter struct {
	refill rate.Limit
	burst  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	users map[string]*userBucket
}

type userBucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

func newMutationLimiter(limit int, window time.Duration, clock func() time.Time) *mutationLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &mutationLimiter{
		refill: rate.Every(window / time.Duration(limit)),
		burst:  limit,
		window: window,
		clock:  clock,
		users:  make(map[string]*userBucket),
	}
}

// allow spends one token for userID, or reports how long until one is available.
func (l *mutationLimiter) allow(userID string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	if userID = strings.TrimSpace(userID); userID == "" {
		userID = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	bucket, ok := l.users[userID]
	if !ok {
		l.pruneLocked(now)
		bucket = &userBucket{tokens: rate.NewLimiter(l.refill, l.burst)}
		l.users[userID] = bucket
	}
	bucket.lastSeen = now
	l.mu.Unlock()

	reservation := bucket.tokens.ReserveN(now, 1)
	if !reservation.OK() {
		return false, l.window
	}
	if wait := reservation.DelayFrom(now); wait > 0 {
		reservation.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// pruneLocked drops buckets idle for a whole window; they would be full again anyway.
func (l *mutationLimiter) pruneLocked(now time.Time) {
	for id, bucket := range l.users {
		if now.Sub(bucket.lastSeen) >= l.window {
			delete(l.users, id)
		}
	}
}

// middleware answers 429 with Retry-After once a user's bucket is empty.
func (l *mutationLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := ""
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			uid = identity.UID
		}
		ok, wait := l.allow(uid)
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many cart updates; retry later", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
