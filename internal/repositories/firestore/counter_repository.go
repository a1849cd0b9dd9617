package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository issues sequence numbers from counter documents.
type CounterRepository struct {
	base
}

// Next atomically increments the counter identified by counterID and returns
// the new value. A missing counter starts at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewInvalidCounterError(id, "counter id is required")
	}
	if step < 0 {
		return 0, repositories.NewInvalidCounterError(id, fmt.Sprintf("step must not be negative, got %d", step))
	}

	var next int64
	err := r.atomically(ctx, func(ctx context.Context) error {
		ref, err := r.doc(ctx, countersCollection, id)
		if err != nil {
			return err
		}
		doc, err := pfirestore.GetDoc[counterDocument](ctx, ref)
		switch {
		case pfirestore.IsNotFound(err):
			doc = counterDocument{}
		case err != nil:
			return err
		}

		increment := step
		if increment <= 0 {
			increment = doc.Step
		}
		if increment <= 0 {
			increment = 1
		}
		value := doc.CurrentValue + increment
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return repositories.NewExhaustedCounterError(id, *doc.MaxValue)
		}
		doc.CurrentValue = value
		doc.Step = increment
		doc.UpdatedAt = r.timestamp()
		next = value
		return pfirestore.SetDoc(ctx, ref, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
