package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

var (
	// ErrWalletInvalidInput indicates an invalid wallet movement.
	ErrWalletInvalidInput = errors.New("wallet: invalid input")
	// ErrWalletInsufficientFunds indicates a debit above the balance.
	ErrWalletInsufficientFunds = errors.New("wallet: insufficient balance")
	// ErrWalletUnavailable indicates a backend failure.
	ErrWalletUnavailable = errors.New("wallet: unavailable")
)

// WalletServiceDeps bundles collaborators required to construct the wallet service.
type WalletServiceDeps struct {
	Wallets     repositories.WalletRepository
	UnitOfWork  repositories.UnitOfWork
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Metrics     OperationRecorder
	Logger      Logger
}

type walletService struct {
	wallets    repositories.WalletRepository
	unitOfWork repositories.UnitOfWork
	currency   string
	clock      func() time.Time
	newID      func() string
	metrics    OperationRecorder
	logger     Logger
}

// NewWalletService validates dependencies and constructs the wallet service.
func NewWalletService(deps WalletServiceDeps) (WalletService, error) {
	if deps.Wallets == nil {
		return nil, errors.New("wallet service: wallet repository is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	return &walletService{
		wallets:    deps.Wallets,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		currency:   currency,
		clock:      utcClock(deps.Clock),
		newID:      idGenerator(deps.IDGenerator),
		metrics:    recorderOrNoop(deps.Metrics),
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

func (s *walletService) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Wallet{}, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	}
	wallet, err := s.wallets.Get(ctx, userID)
	if repositories.IsNotFound(err) {
		return Wallet{UserID: userID, Currency: s.currency}, nil
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	return wallet, nil
}

func (s *walletService) ListTransactions(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[WalletTransaction], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[WalletTransaction]{}, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	}
	page, err := s.wallets.ListTransactions(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[WalletTransaction]{}, pageError(err)
	}
	return page, nil
}

func (s *walletService) Post(ctx context.Context, userID string, entries ...WalletEntry) ([]WalletTransaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	}
	for _, entry := range entries {
		if entry.Amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive", ErrWalletInvalidInput)
		}
		if entry.Type != domain.WalletCredit && entry.Type != domain.WalletDebit {
			return nil, fmt.Errorf("%w: unknown type %q", ErrWalletInvalidInput, entry.Type)
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var posted []WalletTransaction
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		posted = posted[:0]
		wallet, err := s.GetWallet(txCtx, userID)
		if err != nil {
			return err
		}
		now := s.clock()
		if wallet.CreatedAt.IsZero() {
			wallet.CreatedAt = now
		}
		for i, entry := range entries {
			if entry.Type == domain.WalletDebit {
				if wallet.Balance < entry.Amount {
					return fmt.Errorf("%w: balance %d, debit %d", ErrWalletInsufficientFunds, wallet.Balance, entry.Amount)
				}
				wallet.Balance -= entry.Amount
			} else {
				wallet.Balance += entry.Amount
			}
			posted = append(posted, WalletTransaction{
				ID:           s.newID(),
				UserID:       userID,
				Type:         entry.Type,
				Amount:       entry.Amount,
				BalanceAfter: wallet.Balance,
				OrderID:      entry.OrderID,
				Reason:       entry.Reason,
				Description:  entry.Description,
				// Entries posted together keep their order on newest-first listings.
				CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			})
		}
		wallet.UpdatedAt = now
		if err := s.wallets.Save(txCtx, wallet); err != nil {
			return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
		}
		for _, txn := range posted {
			if err := s.wallets.AppendTransaction(txCtx, txn); err != nil {
				return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
			}
		}
		committed := append([]WalletTransaction(nil), posted...)
		repositories.AfterCommit(txCtx, func(ctx context.Context) {
			s.recordMovements(ctx, userID, committed)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

func (s *walletService) recordMovements(ctx context.Context, userID string, posted []WalletTransaction) {
	for _, txn := range posted {
		s.metrics.RecordWalletMovement(ctx, txn.Type, txn.Reason, txn.Amount)
		s.logger(ctx, "wallet."+string(txn.Type), map[string]any{
			"userId":       userID,
			"amount":       txn.Amount,
			"orderId":      txn.OrderID,
			"reason":       string(txn.Reason),
			"balanceAfter": txn.BalanceAfter,
		})
	}
}
