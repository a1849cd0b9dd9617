package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
)

func ok(context.Context) error { return nil }

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: ok},
		{Name: "redis", Check: ok},
	},
		WithDependencyClock(func() time.Time { return now }),
		WithVersion(" v1.4.0 "),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK || check.CheckedAt != now {
			t.Fatalf("unexpected result for %s: %+v", name, check)
		}
	}
	if report.Version != "v1.4.0" || report.GeneratedAt != now {
		t.Fatalf("unexpected report metadata: %+v", report)
	}
}

func TestDependencyHealthRepositoryCriticalFailure(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return errors.New("unreachable") }},
		{Name: "secretManager", Check: ok},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if got := report.Checks["firestore"]; got.Status != domain.HealthStatusError || got.Detail != "unreachable" {
		t.Fatalf("unexpected firestore result %+v", got)
	}
}

func TestDependencyHealthRepositoryOptionalFailureDegrades(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: ok},
		{Name: "secretManager", Check: func(context.Context) error { return errors.New("permission denied") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
}

func TestDependencyHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name:     "redis",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := report.Checks["redis"]
	if got.Status != domain.HealthStatusError || !strings.HasPrefix(got.Detail, "timeout") {
		t.Fatalf("expected timeout error, got %+v", got)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Check: ok}},
		"no func":   {{Name: "firestore"}},
		"duplicate": {{Name: "redis", Check: ok}, {Name: "redis", Check: ok}},
	}
	for name, checks := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewDependencyHealthRepository(checks); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
