package firestore

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type returnDocument struct {
	OrderID      string     `firestore:"orderId"`
	OrderNumber  string     `firestore:"orderNumber"`
	UserID       string     `firestore:"userId"`
	ItemID       string     `firestore:"itemId,omitempty"`
	Reason       string     `firestore:"reason"`
	Description  string     `firestore:"description,omitempty"`
	RefundAmount int64      `firestore:"refundAmount"`
	Status       string     `firestore:"status"`
	ReviewerID   string     `firestore:"reviewerId,omitempty"`
	ReviewNote   string     `firestore:"reviewNote,omitempty"`
	RequestedAt  time.Time  `firestore:"requestedAt"`
	ReviewedAt   *time.Time `firestore:"reviewedAt,omitempty"`
}

func newReturnDocument(ret domain.OrderReturn) returnDocument {
	return returnDocument{
		OrderID:      ret.OrderID,
		OrderNumber:  ret.OrderNumber,
		UserID:       ret.UserID,
		ItemID:       ret.ItemID,
		Reason:       ret.Reason,
		Description:  ret.Description,
		RefundAmount: ret.RefundAmount,
		Status:       string(ret.Status),
		ReviewerID:   ret.ReviewerID,
		ReviewNote:   ret.ReviewNote,
		RequestedAt:  ret.RequestedAt.UTC(),
		ReviewedAt:   ret.ReviewedAt,
	}
}

func (d returnDocument) toDomain(id string) domain.OrderReturn {
	return domain.OrderReturn{
		ID:           id,
		OrderID:      d.OrderID,
		OrderNumber:  d.OrderNumber,
		UserID:       d.UserID,
		ItemID:       d.ItemID,
		Reason:       d.Reason,
		Description:  d.Description,
		RefundAmount: d.RefundAmount,
		Status:       domain.ReturnStatus(d.Status),
		ReviewerID:   d.ReviewerID,
		ReviewNote:   d.ReviewNote,
		RequestedAt:  d.RequestedAt,
		ReviewedAt:   d.ReviewedAt,
	}
}

// ReturnRepository persists return requests.
type ReturnRepository struct {
	base
}

// Insert creates a return request.
func (r *ReturnRepository) Insert(ctx context.Context, ret domain.OrderReturn) error {
	ref, err := r.doc(ctx, returnsCollection, ret.ID)
	if err != nil {
		return err
	}
	return pfirestore.CreateDoc(ctx, ref, newReturnDocument(ret))
}

// Update overwrites a return request.
func (r *ReturnRepository) Update(ctx context.Context, ret domain.OrderReturn) error {
	ref, err := r.doc(ctx, returnsCollection, ret.ID)
	if err != nil {
		return err
	}
	return pfirestore.SetDoc(ctx, ref, newReturnDocument(ret))
}

// FindByID loads a return request.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.OrderReturn, error) {
	ref, err := r.doc(ctx, returnsCollection, strings.TrimSpace(returnID))
	if err != nil {
		return domain.OrderReturn{}, err
	}
	doc, err := pfirestore.GetDoc[returnDocument](ctx, ref)
	if err != nil {
		return domain.OrderReturn{}, err
	}
	return doc.toDomain(ref.ID), nil
}

// ListByOrder returns every return of an order, newest first.
func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderReturn, error) {
	coll, err := r.collection(ctx, returnsCollection)
	if err != nil {
		return nil, err
	}
	docs, err := pfirestore.Query[returnDocument](ctx, coll.Where("orderId", "==", orderID))
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderReturn, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	pagination.SortNewestFirst(out, returnKey)
	return out, nil
}

func returnKey(ret domain.OrderReturn) (time.Time, string) { return ret.RequestedAt, ret.ID }

// List returns returns newest first, optionally narrowed by status.
func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.OrderReturn], error) {
	coll, err := r.collection(ctx, returnsCollection)
	if err != nil {
		return domain.CursorPage[domain.OrderReturn]{}, err
	}
	q := coll.Query
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		q = q.Where("status", "in", statuses)
	}
	q = q.OrderBy("requestedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderReturn]{}, err
	}
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	docs, err := pfirestore.Query[returnDocument](ctx, q.Limit(pageSize+1))
	if err != nil {
		return domain.CursorPage[domain.OrderReturn]{}, err
	}
	page := domain.CursorPage[domain.OrderReturn]{}
	for i, doc := range docs {
		if i == pageSize {
			createdAt, id := returnKey(page.Items[len(page.Items)-1])
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)
