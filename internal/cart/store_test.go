package cart

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arpitray/commerce/internal/domain"
)

func product(id string, price float64) domain.Product {
	return domain.Product{ID: domain.ProductID(id), Name: "Product " + id, Price: price, Image: id + ".png"}
}

func TestStoreScenario(t *testing.T) {
	s := NewStore()
	p := product("1", 10)

	s.Upsert(p, 2)
	assert.Equal(t, 2, s.Count())
	assert.InDelta(t, 20.0, s.Total(), 1e-9)

	s.Upsert(p, 3)
	assert.Equal(t, 5, s.Count())
	assert.InDelta(t, 50.0, s.Total(), 1e-9)
	assert.Equal(t, 1, s.Len())

	s.SetQuantity("1", 0)
	assert.Empty(t, s.Lines())
	assert.Zero(t, s.Count())
	assert.Zero(t, s.Total())
}

func TestStoreUpsertMergesQuantities(t *testing.T) {
	s := NewStore()
	p := product("7", 3.5)
	deltas := []int{1, 4, 2, 9}
	sum := 0
	for _, d := range deltas {
		s.Upsert(p, d)
		sum += d
	}
	line, ok := s.Line("7")
	require.True(t, ok)
	assert.Equal(t, sum, line.Quantity)
	assert.Equal(t, 1, s.Len())
}

func TestStoreUpsertZeroDeltaIsNoop(t *testing.T) {
	s := NewStore()
	s.Upsert(product("1", 1), 0)
	assert.Zero(t, s.Len())

	s.Upsert(product("1", 1), 2)
	s.Upsert(product("1", 1), 0)
	line, _ := s.Line("1")
	assert.Equal(t, 2, line.Quantity)
}

func TestStoreUpsertSnapshotsProduct(t *testing.T) {
	added := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return added }))
	s.Upsert(product("1", 10), 1)
	s.Upsert(domain.Product{ID: "1", Name: "Renamed", Price: 99}, 1)

	line, ok := s.Line("1")
	require.True(t, ok)
	assert.Equal(t, "Product 1", line.Name)
	assert.Equal(t, 10.0, line.Price)
	assert.Equal(t, "1.png", line.Image)
	assert.Equal(t, added, line.AddedAt)
	assert.Equal(t, domain.SyncStatusPending, line.Sync)
}

func TestStoreUpsertNegativeDeltaRemovesAtZero(t *testing.T) {
	s := NewStore()
	s.Upsert(product("1", 1), 2)
	s.Upsert(product("1", 1), -2)
	_, ok := s.Line("1")
	assert.False(t, ok)

	s.Upsert(product("2", 1), -1)
	assert.Zero(t, s.Len())
}

func TestStoreSetQuantityNonPositiveRemoves(t *testing.T) {
	for _, qty := range []int{0, -1} {
		s := NewStore()
		s.Upsert(product("1", 1), 3)
		s.Upsert(product("2", 1), 1)
		s.SetQuantity("1", qty)
		_, ok := s.Line("1")
		assert.False(t, ok, "quantity %d", qty)
		assert.Equal(t, 1, s.Len())
	}
}

func TestStoreSetQuantityKeepsPosition(t *testing.T) {
	s := NewStore()
	s.Upsert(product("a", 1), 1)
	s.Upsert(product("b", 1), 1)
	s.Upsert(product("c", 1), 1)

	require.True(t, s.SetQuantity("b", 7))
	lines := s.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, domain.ProductID("b"), lines[1].ProductID)
	assert.Equal(t, 7, lines[1].Quantity)

	assert.False(t, s.SetQuantity("missing", 3))
	assert.Equal(t, 3, s.Len())
}

func TestStoreRemoveMissingIsNoop(t *testing.T) {
	s := NewStore()
	s.Upsert(product("1", 1), 1)
	assert.False(t, s.Remove("nope"))
	assert.Equal(t, 1, s.Len())
}

func TestStoreRemoveReindexes(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Upsert(product(id, 1), 1)
	}
	require.True(t, s.Remove("b"))
	s.Upsert(product("c", 1), 2)
	s.Upsert(product("e", 1), 1)

	lines := s.Lines()
	ids := make([]domain.ProductID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	assert.Equal(t, []domain.ProductID{"a", "c", "d", "e"}, ids)
	line, _ := s.Line("c")
	assert.Equal(t, 3, line.Quantity)
}

func TestStoreLinesReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Upsert(product("1", 1), 1)
	lines := s.Lines()
	lines[0].Quantity = 100
	line, _ := s.Line("1")
	assert.Equal(t, 1, line.Quantity)
}

func TestStoreClearAndReplace(t *testing.T) {
	s := NewStore()
	s.Upsert(product("1", 1), 1)
	s.Clear()
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Count())

	s.Replace([]domain.CartLine{
		{ProductID: "x", Quantity: 2, Price: 1.5, Sync: domain.SyncStatusSynced},
		{ProductID: "y", Quantity: 0},
		{ProductID: "x", Quantity: 1},
		{ProductID: "z", Quantity: 1, Price: 4, Placeholder: true},
	})
	lines := s.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.True(t, lines[1].Placeholder)
	assert.False(t, lines[1].AddedAt.IsZero())
	assert.InDelta(t, 8.5, s.Total(), 1e-9)

	assert.True(t, s.MarkSync("z", domain.SyncStatusLocalOnly))
	assert.False(t, s.MarkSync("y", domain.SyncStatusSynced))
	line, _ := s.Line("z")
	assert.Equal(t, domain.SyncStatusLocalOnly, line.Sync)
}

func TestStoreAggregatesNeverStale(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	s := NewStore()
	ids := []string{"a", "b", "c", "d", "e"}

	for step := 0; step < 500; step++ {
		id := ids[rng.IntN(len(ids))]
		switch rng.IntN(5) {
		case 0, 1:
			s.Upsert(product(id, float64(len(id))+0.25), rng.IntN(5)-1)
		case 2:
			s.SetQuantity(domain.ProductID(id), rng.IntN(6)-1)
		case 3:
			s.Remove(domain.ProductID(id))
		case 4:
			if rng.IntN(20) == 0 {
				s.Clear()
			}
		}

		var wantTotal float64
		wantCount := 0
		for _, line := range s.Lines() {
			require.Positive(t, line.Quantity)
			wantTotal += line.Price * float64(line.Quantity)
			wantCount += line.Quantity
		}
		require.InDelta(t, wantTotal, s.Total(), 1e-9)
		require.Equal(t, wantCount, s.Count())
		summary := s.Summary()
		require.Equal(t, s.Len(), summary.LineCount)
	}
}
