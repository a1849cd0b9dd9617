package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.HealthReport{
		Checks: map[string]domain.DependencyHealth{
			"firestore": {Status: domain.HealthStatusOK},
			"redis":     {Status: domain.HealthStatusDegraded},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.2.3"},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "1.2.3" || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected metadata %+v", report)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
}

func TestSystemServiceHealthReportKeepsRepositoryStatus(t *testing.T) {
	repo := &stubHealthRepository{report: domain.HealthReport{Status: domain.HealthStatusError, Version: "from-repo"}}
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: repo, Build: BuildInfo{Version: "ignored"}})
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Version != "from-repo" || report.Checks == nil {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSystemServiceHealthReportPropagatesError(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("boom")}
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error")
	}
}
