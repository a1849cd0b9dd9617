package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type walletDocument struct {
	Balance   int64     `firestore:"balance"`
	Currency  string    `firestore:"currency"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type walletTransactionDocument struct {
	Type         string    `firestore:"type"`
	Amount       int64     `firestore:"amount"`
	BalanceAfter int64     `firestore:"balanceAfter"`
	OrderID      string    `firestore:"orderId,omitempty"`
	Reason       string    `firestore:"reason"`
	Description  string    `firestore:"description,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// WalletRepository stores wallets at wallets/{uid} and their ledger in a subcollection.
type WalletRepository struct {
	base
}

// Get loads a wallet.
func (r *WalletRepository) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	uid := strings.TrimSpace(userID)
	ref, err := r.doc(ctx, walletsCollection, uid)
	if err != nil {
		return domain.Wallet{}, err
	}
	doc, err := pfirestore.GetDoc[walletDocument](ctx, ref)
	if err != nil {
		return domain.Wallet{}, err
	}
	return domain.Wallet{UserID: uid, Balance: doc.Balance, Currency: doc.Currency, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt}, nil
}

// Save overwrites the wallet balance.
func (r *WalletRepository) Save(ctx context.Context, wallet domain.Wallet) error {
	if wallet.Balance < 0 {
		return repositories.NewConflict("wallets.save", errors.New("negative balance"))
	}
	ref, err := r.doc(ctx, walletsCollection, strings.TrimSpace(wallet.UserID))
	if err != nil {
		return err
	}
	return pfirestore.SetDoc(ctx, ref, walletDocument{
		Balance:   wallet.Balance,
		Currency:  wallet.Currency,
		CreatedAt: wallet.CreatedAt.UTC(),
		UpdatedAt: wallet.UpdatedAt.UTC(),
	})
}

func (r *WalletRepository) transactions(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	ref, err := r.doc(ctx, walletsCollection, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	return ref.Collection(walletTxnsCollection), nil
}

// AppendTransaction creates a ledger entry.
func (r *WalletRepository) AppendTransaction(ctx context.Context, txn domain.WalletTransaction) error {
	coll, err := r.transactions(ctx, txn.UserID)
	if err != nil {
		return err
	}
	return pfirestore.CreateDoc(ctx, coll.Doc(txn.ID), walletTransactionDocument{
		Type:         string(txn.Type),
		Amount:       txn.Amount,
		BalanceAfter: txn.BalanceAfter,
		OrderID:      txn.OrderID,
		Reason:       string(txn.Reason),
		Description:  txn.Description,
		CreatedAt:    txn.CreatedAt.UTC(),
	})
}

// ListTransactions pages through the ledger newest first.
func (r *WalletRepository) ListTransactions(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.WalletTransaction], error) {
	coll, err := r.transactions(ctx, userID)
	if err != nil {
		return domain.CursorPage[domain.WalletTransaction]{}, err
	}
	q := coll.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.WalletTransaction]{}, err
	}
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	docs, err := pfirestore.Query[walletTransactionDocument](ctx, q.Limit(pageSize+1))
	if err != nil {
		return domain.CursorPage[domain.WalletTransaction]{}, err
	}
	page := domain.CursorPage[domain.WalletTransaction]{}
	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, domain.WalletTransaction{
			ID:           doc.ID,
			UserID:       userID,
			Type:         domain.WalletTransactionType(doc.Data.Type),
			Amount:       doc.Data.Amount,
			BalanceAfter: doc.Data.BalanceAfter,
			OrderID:      doc.Data.OrderID,
			Reason:       domain.WalletReason(doc.Data.Reason),
			Description:  doc.Data.Description,
			CreatedAt:    doc.Data.CreatedAt,
		})
	}
	return page, nil
}

var _ repositories.WalletRepository = (*WalletRepository)(nil)
