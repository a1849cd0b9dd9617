package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. A failing Critical probe marks the
// whole report as error; any other failure only degrades it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Check    func(context.Context) error
}

// DependencyHealthOption customises NewDependencyHealthRepository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout sets the timeout of checks that do not carry their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithVersion stamps reports with the running build version.
func WithVersion(version string) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		repo.version = strings.TrimSpace(version)
	}
}

// WithDependencyClock injects the clock used for timestamps and latency.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	version        string
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository validates checks up front and returns a
// repository that runs them concurrently on every Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, errors.New("health repository: dependency check missing name")
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: dependency %s registered twice", name)
		}
		seen[name] = struct{}{}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	results := make([]domain.DependencyHealth, len(r.checks))
	var wg sync.WaitGroup
	for i, check := range r.checks {
		wg.Add(1)
		go func(i int, check DependencyCheck) {
			defer wg.Done()
			results[i] = r.probe(ctx, check)
		}(i, check)
	}
	wg.Wait()

	report := domain.HealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.DependencyHealth, len(results)),
		Version:     r.version,
		GeneratedAt: r.now(),
	}
	for i, result := range results {
		report.Checks[strings.TrimSpace(r.checks[i].Name)] = result
		report.Status = worseStatus(report.Status, result.Status)
	}
	return report, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(checkCtx)
	if err == nil {
		// A probe that ignores its context can return nil after the deadline.
		err = checkCtx.Err()
	}
	end := r.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil {
		return result
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout: " + err.Error()
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled: " + err.Error()
	default:
		result.Detail = err.Error()
	}
	result.Status = domain.HealthStatusDegraded
	if check.Critical {
		result.Status = domain.HealthStatusError
	}
	return result
}

func worseStatus(current, next string) string {
	rank := func(status string) int {
		switch status {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		}
		return 0
	}
	if rank(next) > rank(current) {
		return next
	}
	return current
}
