package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Arpitray/commerce/internal/domain"
)

func passing(context.Context) error { return nil }

func TestDependencyHealthAllHealthy(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: " cart_store ", Check: passing},
		{Name: "catalog", Optional: true, Check: passing},
	}, WithDependencyClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Equal(t, now, report.GeneratedAt)
	require.Contains(t, report.Checks, "cart_store")
	assert.Equal(t, "ok", report.Checks["cart_store"].Detail)
	assert.Equal(t, domain.HealthStatusOK, report.Checks["catalog"].Status)
}

func TestDependencyHealthWorstStatusWins(t *testing.T) {
	tests := []struct {
		name     string
		checks   []DependencyCheck
		status   string
		detailOf map[string]string
	}{
		{
			name: "optional failure degrades",
			checks: []DependencyCheck{
				{Name: "cart_store", Check: passing},
				{Name: "divergence_topic", Optional: true, Check: func(context.Context) error {
					return NewUnavailableError("pubsub.exists", errors.New("503"))
				}},
			},
			status:   domain.HealthStatusDegraded,
			detailOf: map[string]string{"divergence_topic": "unavailable"},
		},
		{
			name: "required failure errors",
			checks: []DependencyCheck{
				{Name: "cart_store", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "catalog", Optional: true, Check: func(context.Context) error { return errors.New("dns") }},
			},
			status:   domain.HealthStatusError,
			detailOf: map[string]string{"cart_store": "connection refused", "catalog": "dns"},
		},
		{
			name: "timeout",
			checks: []DependencyCheck{
				{Name: "cart_store", Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				}},
			},
			status:   domain.HealthStatusError,
			detailOf: map[string]string{"cart_store": "timeout"},
		},
		{
			name: "probe ignoring its deadline",
			checks: []DependencyCheck{
				{Name: "cart_store", Timeout: time.Millisecond, Check: func(context.Context) error {
					time.Sleep(10 * time.Millisecond)
					return nil
				}},
			},
			status:   domain.HealthStatusError,
			detailOf: map[string]string{"cart_store": "timeout"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks)
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.status, report.Status)
			for name, detail := range tc.detailOf {
				assert.Equal(t, detail, report.Checks[name].Detail, name)
				assert.NotEmpty(t, report.Checks[name].Error, name)
			}
		})
	}
}

func TestDependencyHealthCancelledParent(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "cart_store", Check: func(ctx context.Context) error {
		return ctx.Err()
	}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := repo.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", report.Checks["cart_store"].Detail)
}

func TestNewDependencyHealthRepositoryValidates(t *testing.T) {
	for name, checks := range map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: " ", Check: passing}},
		"no check":  {{Name: "cart_store"}},
		"duplicate": {{Name: "catalog", Check: passing}, {Name: "catalog ", Check: passing}},
	} {
		_, err := NewDependencyHealthRepository(checks)
		assert.Error(t, err, name)
	}
}
