package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arpitray/commerce/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func addItemRequest(key, body, uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(defaultHeaderName, key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.NewIdentity(uid, "")))
	}
	return req
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestMiddlewareRequiresKeyUnlessOptional(t *testing.T) {
	var calls int
	strict := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK, `{}`))
	rr := httptest.NewRecorder()
	strict.ServeHTTP(rr, addItemRequest("", `{"productId":"1"}`, "u1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "idempotency_key_required", errorCode(t, rr))
	assert.Zero(t, calls)

	optional := Middleware(NewMemoryStore(), WithOptionalKey())(countingHandler(&calls, http.StatusOK, `{}`))
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		optional.ServeHTTP(rr, addItemRequest("", `{"productId":"1"}`, "u1"))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get(replayHeaderName))
	}
	assert.Equal(t, 2, calls)
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		countingHandler(&calls, http.StatusOK, `{"cart":{"summary":{"totalItems":2}}}`))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, addItemRequest("add-chair", `{"productId":"1","quantity":2}`, "u1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, addItemRequest("add-chair", `{"productId":"1","quantity":2}`, "u1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK, `{}`))

	handler.ServeHTTP(httptest.NewRecorder(), addItemRequest("same", `{"productId":"1","quantity":2}`, "u1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, addItemRequest("same", `{"productId":"1","quantity":3}`, "u1"))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_key_conflict", errorCode(t, rr))
	assert.Equal(t, 1, calls)
}

func TestMiddlewareReportsInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	req := addItemRequest("pending", `{"productId":"1"}`, "u1")
	key := Key{UserID: "u1", Value: "pending", Fingerprint: fingerprint(req, []byte(`{"productId":"1"}`))}
	_, err := store.Reserve(context.Background(), key, fixedTime, time.Hour)
	require.NoError(t, err)

	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is in flight")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_in_progress", errorCode(t, rr))
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusServiceUnavailable, `{"error":"cart_not_ready"}`))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, addItemRequest("retry-me", `{"productId":"1"}`, "u1"))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Empty(t, rr.Header().Get(replayHeaderName))
	}
	assert.Equal(t, 2, calls)
	assert.Zero(t, store.Len())
}

func TestMiddlewareReleasesKeyWhenSaveFails(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusOK, `ok`))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, addItemRequest("fail", `{"productId":"1"}`, "u1"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "idempotency_store_error", errorCode(t, rr))
	assert.True(t, store.released)
	assert.Zero(t, store.Len())
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK, `{}`))

	for _, uid := range []string{"u1", "u2"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, addItemRequest("shared", `{"productId":"1"}`, uid))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get(replayHeaderName))
	}
	assert.Equal(t, 2, calls)
}

func TestMiddlewareIgnoresUnguardedMethods(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithMethods(http.MethodPost))(countingHandler(&calls, http.StatusOK, `{}`))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, calls)
}

func TestMemoryStoreExpiryAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{UserID: "u1", Value: "k", Fingerprint: "f1"}

	res, err := store.Reserve(ctx, key, fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Acquired, res.Outcome)
	require.NoError(t, store.Complete(ctx, key, Response{Status: http.StatusOK, Headers: http.Header{"Date": {"x"}, "Etag": {`W/"1"`}}}, fixedTime, time.Minute))

	res, err = store.Reserve(ctx, key, fixedTime.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Replay, res.Outcome)
	assert.Empty(t, res.Response.Headers.Get("Date"))
	assert.Equal(t, `W/"1"`, res.Response.Headers.Get("Etag"))

	other := Key{UserID: "u1", Value: "k", Fingerprint: "f2"}
	res, err = store.Reserve(ctx, other, fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err, "expired records are reclaimable by any request")
	assert.Equal(t, Acquired, res.Outcome)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, store.Len())
}

type failingStore struct {
	*MemoryStore
	released bool
}

func (s *failingStore) Complete(context.Context, Key, Response, time.Time, time.Duration) error {
	return errors.New("save failed")
}

func (s *failingStore) Release(ctx context.Context, key Key) error {
	s.released = true
	return s.MemoryStore.Release(ctx, key)
}
