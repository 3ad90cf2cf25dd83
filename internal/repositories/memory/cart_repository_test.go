package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/repositories"
)

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestCartRepositoryIncrementCreatesAndMerges(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

	line, err := repo.IncrementLine(ctx, "u1", "1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)

	line, err = repo.IncrementLine(ctx, "u1", "1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, line.Quantity)
	assert.True(t, line.UpdatedAt.After(line.CreatedAt))

	line, err = repo.IncrementLine(ctx, "u1", "1", -5)
	require.NoError(t, err)
	assert.Zero(t, line.Quantity)

	lines, err := repo.ListLines(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartRepositoryListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

	for _, id := range []domain.ProductID{"c", "a", "b"} {
		_, err := repo.IncrementLine(ctx, "u1", id, 1)
		require.NoError(t, err)
	}
	_, err := repo.SetLineQuantity(ctx, "u1", "c", 9)
	require.NoError(t, err)
	_, err = repo.IncrementLine(ctx, "u2", "z", 1)
	require.NoError(t, err)

	lines, err := repo.ListLines(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, domain.ProductID("c"), lines[0].ProductID)
	assert.Equal(t, 9, lines[0].Quantity)
	assert.Equal(t, domain.ProductID("a"), lines[1].ProductID)
	assert.Equal(t, domain.ProductID("b"), lines[2].ProductID)
}

func TestCartRepositoryDeletes(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository()

	_, _ = repo.IncrementLine(ctx, "u1", "1", 1)
	_, _ = repo.IncrementLine(ctx, "u1", "2", 1)
	_, _ = repo.IncrementLine(ctx, "u2", "1", 1)

	require.NoError(t, repo.DeleteLine(ctx, "u1", "1"))
	require.NoError(t, repo.DeleteLine(ctx, "u1", "missing"))
	lines, _ := repo.ListLines(ctx, "u1")
	require.Len(t, lines, 1)

	require.NoError(t, repo.DeleteAll(ctx, "u1"))
	lines, _ = repo.ListLines(ctx, "u1")
	assert.Empty(t, lines)
	lines, _ = repo.ListLines(ctx, "u2")
	assert.Len(t, lines, 1)
}

func TestCartRepositoryFaultInjection(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository()
	repo.InjectFault(func(op string, _ string, productID domain.ProductID) error {
		if op == "cart.increment" && productID == "bad" {
			return errors.New("network down")
		}
		return nil
	})

	_, err := repo.IncrementLine(ctx, "u1", "bad", 1)
	require.Error(t, err)
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsUnavailable())

	_, err = repo.IncrementLine(ctx, "u1", "good", 1)
	require.NoError(t, err)

	repo.FailAll(nil)
	_, err = repo.ListLines(ctx, "u1")
	require.Error(t, err)
	require.Error(t, repo.Ping(ctx))

	repo.InjectFault(nil)
	lines, err := repo.ListLines(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, domain.ProductID("good"), lines[0].ProductID)
}

func TestCartRepositoryRequiresUser(t *testing.T) {
	_, err := NewCartRepository().IncrementLine(context.Background(), " ", "1", 1)
	require.Error(t, err)
}

func TestCartRepositoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCartRepository().ListLines(ctx, "u1")
	require.ErrorIs(t, err, context.Canceled)
}
