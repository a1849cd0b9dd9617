package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

type txKey struct{}

// txState wraps a Firestore transaction and queues its writes until the unit
// of work returns, so repositories may read after another repository wrote.
type txState struct {
	tx     *firestore.Transaction
	mu     sync.Mutex
	writes []func(*firestore.Transaction) error
}

func (s *txState) queue(write func(*firestore.Transaction) error) {
	s.mu.Lock()
	s.writes = append(s.writes, write)
	s.mu.Unlock()
}

func (s *txState) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, write := range s.writes {
		if err := write(s.tx); err != nil {
			return err
		}
	}
	s.writes = nil
	return nil
}

func stateFromContext(ctx context.Context) (*txState, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	return state, ok && state != nil && state.tx != nil
}

// TxFromContext returns the transaction opened by RunInTx, if any.
func TxFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	state, ok := stateFromContext(ctx)
	if !ok {
		return nil, false
	}
	return state.tx, true
}

// RunInTx runs fn inside a Firestore transaction. The transaction travels on
// the context so repository calls made by fn join it. Writes are buffered and
// applied once fn returns, so reads always observe the state at transaction
// start; a repository must not read a document it wrote in the same unit of
// work. fn may be retried on contention.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if _, nested := stateFromContext(ctx); nested {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	txCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > defaultTxTimeout {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	err = client.RunTransaction(txCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		state := &txState{tx: tx}
		if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
			return err
		}
		return state.flush()
	}, firestore.MaxAttempts(defaultTxAttempts))
	return WrapError("transaction", err)
}
