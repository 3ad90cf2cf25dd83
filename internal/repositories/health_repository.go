package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/Arpitray/commerce/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck probes one backend the cart depends on: the cart store, the product catalogue,
// the divergence topic. A failing Optional check degrades readiness instead of failing it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout applies to checks that leave Timeout zero.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(r *dependencyHealthRepository) {
		if timeout > 0 {
			r.fallbackTimeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(r *dependencyHealthRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks          []DependencyCheck
	fallbackTimeout time.Duration
	now             func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository rejects unnamed, duplicate or empty checks up front so a
// misconfigured container fails at startup rather than on the first readiness probe.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks")
	}
	normalised := make([]DependencyCheck, 0, len(checks))
	names := make(map[string]bool, len(checks))
	for _, check := range checks {
		check.Name = strings.TrimSpace(check.Name)
		switch {
		case check.Name == "":
			return nil, errors.New("health: dependency check without a name")
		case check.Check == nil:
			return nil, fmt.Errorf("health: dependency %q has no check", check.Name)
		case names[check.Name]:
			return nil, fmt.Errorf("health: dependency %q registered twice", check.Name)
		}
		names[check.Name] = true
		normalised = append(normalised, check)
	}

	r := &dependencyHealthRepository{
		checks:          normalised,
		fallbackTimeout: defaultDependencyTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Collect runs every check concurrently; the report takes the worst status seen.
func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	results := make([]domain.HealthCheck, len(r.checks))
	var wg sync.WaitGroup
	for i := range r.checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.run(ctx, r.checks[i])
		}(i)
	}
	wg.Wait()

	report := domain.HealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.HealthCheck, len(results)),
		GeneratedAt: r.now(),
	}
	for i, result := range results {
		report.Checks[r.checks[i].Name] = result
		report.Status = worse(report.Status, result.Status)
	}
	return report, nil
}

func (r *dependencyHealthRepository) run(ctx context.Context, check DependencyCheck) domain.HealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.fallbackTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := check.Check(ctx)
	if err == nil {
		// A probe that ignores its deadline still counts as timed out.
		err = ctx.Err()
	}
	finished := r.now()

	result := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return result
	}

	result.Error = err.Error()
	result.Detail = describeFailure(err)
	result.Status = domain.HealthStatusError
	if check.Optional {
		result.Status = domain.HealthStatusDegraded
	}
	return result
}

func describeFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	var repoErr RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return "unavailable"
	}
	return err.Error()
}

func worse(a, b string) string {
	rank := map[string]int{domain.HealthStatusOK: 0, domain.HealthStatusDegraded: 1, domain.HealthStatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
