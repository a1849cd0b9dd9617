package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type walletRepo struct{ s *Store }

func (r walletRepo) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	defer r.s.lock(ctx)()
	wallet, ok := r.s.state.wallets[userID]
	if !ok {
		return domain.Wallet{}, repositories.NewNotFound("wallets.get")
	}
	return wallet, nil
}

func (r walletRepo) Save(ctx context.Context, wallet domain.Wallet) error {
	defer r.s.lock(ctx)()
	if wallet.Balance < 0 {
		return repositories.NewConflict("wallets.save", errors.New("negative balance"))
	}
	r.s.state.wallets[wallet.UserID] = wallet
	return nil
}

func (r walletRepo) AppendTransaction(ctx context.Context, txn domain.WalletTransaction) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.state.walletTxns[txn.UserID] {
		if existing.ID == txn.ID {
			return repositories.NewConflict("wallets.append_transaction", errors.New("transaction already recorded"))
		}
	}
	r.s.state.walletTxns[txn.UserID] = append(r.s.state.walletTxns[txn.UserID], txn)
	return nil
}

func (r walletRepo) ListTransactions(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.WalletTransaction], error) {
	defer r.s.lock(ctx)()
	items := append([]domain.WalletTransaction(nil), r.s.state.walletTxns[userID]...)
	key := func(t domain.WalletTransaction) (time.Time, string) { return t.CreatedAt, t.ID }
	pagination.SortNewestFirst(items, key)
	page, next, err := pagination.Slice(items, pager.PageSize, pager.PageToken, key)
	if err != nil {
		return domain.CursorPage[domain.WalletTransaction]{}, err
	}
	return domain.CursorPage[domain.WalletTransaction]{Items: page, NextPageToken: next}, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewInvalidCounterError(id, "counter id is required")
	}
	if step < 0 {
		return 0, repositories.NewInvalidCounterError(id, "step must not be negative")
	}
	if step == 0 {
		step = 1
	}
	defer r.s.lock(ctx)()
	r.s.state.counters[id] += step
	return r.s.state.counters[id], nil
}
