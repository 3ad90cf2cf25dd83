//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pconfig "github.com/Arpitray/commerce/internal/platform/config"
	pfirestore "github.com/Arpitray/commerce/internal/platform/firestore"
	"github.com/Arpitray/commerce/internal/platform/firestore/firestoretest"
	"github.com/Arpitray/commerce/internal/repositories"
)

type lineDoc struct {
	ProductID string `firestore:"product_id"`
	Quantity  int    `firestore:"quantity"`
}

func TestSubcollectionAgainstEmulator(t *testing.T) {
	endpoint := firestoretest.Start(t)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "platform-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Concurrent first callers share one client.
	clients := make([]*firestore.Client, 4)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := provider.Client(ctx)
			assert.NoError(t, err)
			clients[i] = client
		}(i)
	}
	wg.Wait()
	for _, client := range clients[1:] {
		assert.Same(t, clients[0], client)
	}

	lines := pfirestore.NewSubcollection[lineDoc](provider, "lines", func(uid string) string {
		return "carts/" + uid + "/lines"
	}, nil)

	_, err := lines.Set(ctx, "u1", "1", lineDoc{ProductID: "1", Quantity: 1})
	require.NoError(t, err)
	_, err = lines.Set(ctx, "u1", "2", lineDoc{ProductID: "2", Quantity: 4})
	require.NoError(t, err)
	_, err = lines.Set(ctx, "u2", "1", lineDoc{ProductID: "1", Quantity: 9})
	require.NoError(t, err)

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := lines.DocumentRef(ctx, "u1", "1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := lines.Decode(snap)
		if err != nil {
			return err
		}
		doc.Data.Quantity += 2
		return tx.Set(ref, doc.Data)
	})
	require.NoError(t, err)

	doc, err := lines.Get(ctx, "u1", "1")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Data.Quantity)
	assert.False(t, doc.UpdateTime.IsZero())

	_, err = lines.Get(ctx, "u1", "missing")
	var repoErr *repositories.Error
	require.True(t, errors.As(err, &repoErr), "got %v", err)
	assert.True(t, repoErr.IsNotFound())

	require.NoError(t, lines.Delete(ctx, "u1", "2"))
	require.NoError(t, lines.Delete(ctx, "u1", "2"))

	removed, err := lines.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	others, err := lines.Query(ctx, "u2", nil)
	require.NoError(t, err)
	assert.Len(t, others, 1)

	require.NoError(t, provider.Ping(ctx))

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err = provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
