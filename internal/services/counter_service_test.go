package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dingdong-ecommerce/api/internal/repositories"
	"github.com/dingdong-ecommerce/api/internal/repositories/memory"
)

type failingCounters struct{ err error }

func (f failingCounters) Next(context.Context, string, int64) (int64, error) { return 0, f.err }

func TestCounterServiceFormatsOrderNumbers(t *testing.T) {
	svc, err := NewCounterService(CounterServiceDeps{
		Repository: memory.NewStore().Counters(),
		Clock:      func() time.Time { return storeOpenedAt },
	})
	mustConstruct(t, err)

	first, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "DNG-2026-000001" || second != "DNG-2026-000002" {
		t.Fatalf("unexpected numbers %q, %q", first, second)
	}
}

func TestCounterServiceTranslatesRepositoryErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"exhausted", repositories.NewExhaustedCounterError("orders", 999999), ErrCounterExhausted},
		{"invalid", repositories.NewInvalidCounterError("", "counter id is required"), ErrCounterInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewCounterService(CounterServiceDeps{Repository: failingCounters{err: tc.err}})
			mustConstruct(t, err)
			if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	plain := errors.New("backend down")
	svc, err := NewCounterService(CounterServiceDeps{Repository: failingCounters{err: plain}})
	mustConstruct(t, err)
	if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, plain) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}
