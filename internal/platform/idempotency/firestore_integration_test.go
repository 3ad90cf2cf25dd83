//go:build integration

package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pconfig "github.com/Arpitray/commerce/internal/platform/config"
	pfirestore "github.com/Arpitray/commerce/internal/platform/firestore"
	"github.com/Arpitray/commerce/internal/platform/firestore/firestoretest"
)

func TestFirestoreStoreLifecycle(t *testing.T) {
	endpoint := firestoretest.Start(t)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "idempotency-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	store := NewFirestoreStore(provider, WithCollection("idempotency_test"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	now := time.Now().UTC()
	key := Key{UserID: "u1", Value: "add-1", Fingerprint: "fp"}

	res, err := store.Reserve(ctx, key, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Acquired, res.Outcome)

	res, err = store.Reserve(ctx, key, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, InFlight, res.Outcome)

	_, err = store.Reserve(ctx, Key{UserID: "u1", Value: "add-1", Fingerprint: "other"}, now, time.Minute)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	body := []byte(`{"cart":{}}`)
	require.NoError(t, store.Complete(ctx, key, Response{Status: http.StatusOK, Headers: http.Header{"Content-Type": {"application/json"}}, Body: body}, now, time.Minute))

	res, err = store.Reserve(ctx, key, now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Replay, res.Outcome)
	assert.Equal(t, body, res.Response.Body)
	assert.Equal(t, "application/json", res.Response.Headers.Get("Content-Type"))

	removed, err := store.CleanupExpired(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	require.NoError(t, store.Release(ctx, key))
}
