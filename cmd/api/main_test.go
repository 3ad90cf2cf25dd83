package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Arpitray/commerce/internal/platform/config"
)

func TestEveryStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- every(ctx, time.Millisecond, func(context.Context) { ticks.Add(1) })()
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestEveryDisabledForNonPositiveInterval(t *testing.T) {
	called := false
	assert.NoError(t, every(context.Background(), 0, func(context.Context) { called = true })())
	assert.False(t, called)
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", buildVersion(nil))
	assert.Equal(t, "1.4.0+abc123", buildVersion(map[string]string{
		"API_BUILD_VERSION":    "1.4.0",
		"API_BUILD_COMMIT_SHA": "abc123",
	}))
}

func TestRequiredSecretNames(t *testing.T) {
	assert.Nil(t, requiredSecretNames(map[string]string{"API_CART_BACKEND": "memory"}))
	assert.Equal(t, []string{"Postgres.DSN"}, requiredSecretNames(map[string]string{"API_CART_BACKEND": " Postgres "}))
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{Firebase: config.FirebaseConfig{ProjectID: "shop"}, Firestore: config.FirestoreConfig{ProjectID: "db"}}
	assert.Equal(t, "shop", traceProjectID(cfg))
	cfg.Firebase.ProjectID = ""
	assert.Equal(t, "db", traceProjectID(cfg))
}
