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

type orderDocument struct {
	OrderNumber      string              `firestore:"orderNumber"`
	UserID           string              `firestore:"userId"`
	Address          orderAddressDoc     `firestore:"address"`
	Items            []orderItemDocument `firestore:"items"`
	Currency         string              `firestore:"currency"`
	Subtotal         int64               `firestore:"subtotal"`
	DiscountAmount   int64               `firestore:"discountAmount"`
	DeliveryCharge   int64               `firestore:"deliveryCharge"`
	CouponID         string              `firestore:"couponId,omitempty"`
	CouponCode       string              `firestore:"couponCode,omitempty"`
	CouponDiscount   int64               `firestore:"couponDiscount"`
	Total            int64               `firestore:"total"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	Status           string              `firestore:"status"`
	PaymentStatus    string              `firestore:"paymentStatus"`
	Paid             bool                `firestore:"paid"`
	AmountPaid       int64               `firestore:"amountPaid"`
	RefundedAmount   int64               `firestore:"refundedAmount"`
	StockCommitted   bool                `firestore:"stockCommitted"`
	Gateway          string              `firestore:"gateway,omitempty"`
	GatewayOrderID   string              `firestore:"gatewayOrderId,omitempty"`
	GatewayPaymentID string              `firestore:"gatewayPaymentId,omitempty"`
	CancelReason     string              `firestore:"cancelReason,omitempty"`
	CanceledAt       *time.Time          `firestore:"canceledAt,omitempty"`
	DeliveredAt      *time.Time          `firestore:"deliveredAt,omitempty"`
	PaidAt           *time.Time          `firestore:"paidAt,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

type orderAddressDoc struct {
	FullName   string `firestore:"fullName"`
	Phone      string `firestore:"phone"`
	FlatHouse  string `firestore:"flatHouse"`
	AreaStreet string `firestore:"areaStreet"`
	Landmark   string `firestore:"landmark,omitempty"`
	TownCity   string `firestore:"townCity"`
	State      string `firestore:"state"`
	Pincode    string `firestore:"pincode"`
}

type orderItemDocument struct {
	ID           string     `firestore:"id"`
	VariantID    string     `firestore:"variantId"`
	ProductID    string     `firestore:"productId"`
	ProductName  string     `firestore:"productName"`
	BrandID      string     `firestore:"brandId,omitempty"`
	ColorName    string     `firestore:"colorName,omitempty"`
	ColorCode    string     `firestore:"colorCode,omitempty"`
	Quantity     int        `firestore:"quantity"`
	ListPrice    int64      `firestore:"listPrice"`
	Price        int64      `firestore:"price"`
	OfferPercent int        `firestore:"offerPercent"`
	OfferKind    string     `firestore:"offerKind,omitempty"`
	Subtotal     int64      `firestore:"subtotal"`
	Status       string     `firestore:"status"`
	CanceledAt   *time.Time `firestore:"canceledAt,omitempty"`
	ReturnedAt   *time.Time `firestore:"returnedAt,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      o.OrderNumber,
		UserID:           o.UserID,
		Address:          orderAddressDoc(o.Address),
		Items:            make([]orderItemDocument, 0, len(o.Items)),
		Currency:         o.Currency,
		Subtotal:         o.Subtotal,
		DiscountAmount:   o.DiscountAmount,
		DeliveryCharge:   o.DeliveryCharge,
		CouponID:         o.CouponID,
		CouponCode:       o.CouponCode,
		CouponDiscount:   o.CouponDiscount,
		Total:            o.Total,
		PaymentMethod:    string(o.PaymentMethod),
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		Paid:             o.Paid,
		AmountPaid:       o.AmountPaid,
		RefundedAmount:   o.RefundedAmount,
		StockCommitted:   o.StockCommitted,
		Gateway:          o.Gateway,
		GatewayOrderID:   o.GatewayOrderID,
		GatewayPaymentID: o.GatewayPaymentID,
		CancelReason:     o.CancelReason,
		CanceledAt:       o.CanceledAt,
		DeliveredAt:      o.DeliveredAt,
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:           item.ID,
			VariantID:    item.VariantID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			BrandID:      item.BrandID,
			ColorName:    item.ColorName,
			ColorCode:    item.ColorCode,
			Quantity:     item.Quantity,
			ListPrice:    item.ListPrice,
			Price:        item.Price,
			OfferPercent: item.OfferPercent,
			OfferKind:    string(item.OfferKind),
			Subtotal:     item.Subtotal,
			Status:       string(item.Status),
			CanceledAt:   item.CanceledAt,
			ReturnedAt:   item.ReturnedAt,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		UserID:           d.UserID,
		Address:          domain.OrderAddress(d.Address),
		Items:            make([]domain.OrderItem, 0, len(d.Items)),
		Currency:         d.Currency,
		Subtotal:         d.Subtotal,
		DiscountAmount:   d.DiscountAmount,
		DeliveryCharge:   d.DeliveryCharge,
		CouponID:         d.CouponID,
		CouponCode:       d.CouponCode,
		CouponDiscount:   d.CouponDiscount,
		Total:            d.Total,
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		Status:           domain.OrderStatus(d.Status),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		Paid:             d.Paid,
		AmountPaid:       d.AmountPaid,
		RefundedAmount:   d.RefundedAmount,
		StockCommitted:   d.StockCommitted,
		Gateway:          d.Gateway,
		GatewayOrderID:   d.GatewayOrderID,
		GatewayPaymentID: d.GatewayPaymentID,
		CancelReason:     d.CancelReason,
		CanceledAt:       d.CanceledAt,
		DeliveredAt:      d.DeliveredAt,
		PaidAt:           d.PaidAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:           item.ID,
			VariantID:    item.VariantID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			BrandID:      item.BrandID,
			ColorName:    item.ColorName,
			ColorCode:    item.ColorCode,
			Quantity:     item.Quantity,
			ListPrice:    item.ListPrice,
			Price:        item.Price,
			OfferPercent: item.OfferPercent,
			OfferKind:    domain.OfferKind(item.OfferKind),
			Subtotal:     item.Subtotal,
			Status:       domain.ItemStatus(item.Status),
			CanceledAt:   item.CanceledAt,
			ReturnedAt:   item.ReturnedAt,
		})
	}
	return order
}

// OrderRepository persists orders with their items embedded.
type OrderRepository struct {
	base
}

// Insert creates the order document; an existing ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.doc(ctx, ordersCollection, order.ID)
	if err != nil {
		return err
	}
	return pfirestore.CreateDoc(ctx, ref, newOrderDocument(order))
}

// Update overwrites an existing order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.doc(ctx, ordersCollection, order.ID)
	if err != nil {
		return err
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = r.timestamp()
	}
	return pfirestore.SetDoc(ctx, ref, newOrderDocument(order))
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.doc(ctx, ordersCollection, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := pfirestore.GetDoc[orderDocument](ctx, ref)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(ref.ID), nil
}

// List runs the equality and range filters in Firestore and applies the
// free text search afterwards. Without a search the query reads one page.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx, ordersCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	q := coll.Query
	if filter.UserID != "" {
		q = q.Where("userId", "==", filter.UserID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		q = q.Where("status", "in", statuses)
	}
	if !filter.Created.From.IsZero() {
		q = q.Where("createdAt", ">=", filter.Created.From.UTC())
	}
	if !filter.Created.To.IsZero() {
		q = q.Where("createdAt", "<=", filter.Created.To.UTC())
	}
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	key := func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID }
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	if strings.TrimSpace(filter.Search) == "" {
		cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		docs, err := pfirestore.Query[orderDocument](ctx, q.Limit(pageSize+1))
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
		for i, doc := range docs {
			if i == pageSize {
				last := page.Items[len(page.Items)-1]
				createdAt, id := key(last)
				page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
				break
			}
			page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
		}
		return page, nil
	}

	docs, err := pfirestore.Query[orderDocument](ctx, q)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	var items []domain.Order
	for _, doc := range docs {
		order := doc.Data.toDomain(doc.ID)
		if filter.Matches(order) {
			items = append(items, order)
		}
	}
	page, next, err := pagination.Slice(items, pageSize, filter.Pagination.PageToken, key)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return domain.CursorPage[domain.Order]{Items: page, NextPageToken: next}, nil
}

// ListUnpaidOnline returns the oldest pending online orders created before cutoff.
func (r *OrderRepository) ListUnpaidOnline(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	coll, err := r.collection(ctx, ordersCollection)
	if err != nil {
		return nil, err
	}
	q := coll.Where("paymentMethod", "==", string(domain.PaymentMethodOnline)).
		Where("status", "==", string(domain.OrderStatusPending)).
		Where("paid", "==", false).
		Where("createdAt", "<", cutoff.UTC()).
		OrderBy("createdAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs, err := pfirestore.Query[orderDocument](ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

type orderStatsDocument struct {
	Total         int64  `firestore:"total"`
	Status        string `firestore:"status"`
	PaymentStatus string `firestore:"paymentStatus"`
}

// Stats scans the fields needed for the dashboard.
func (r *OrderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	coll, err := r.collection(ctx, ordersCollection)
	if err != nil {
		return domain.OrderStats{}, err
	}
	docs, err := pfirestore.Query[orderStatsDocument](ctx, coll.Select("total", "status", "paymentStatus"))
	if err != nil {
		return domain.OrderStats{}, err
	}
	stats := domain.OrderStats{ByPaymentStatus: map[domain.PaymentStatus]int{}}
	for _, doc := range docs {
		stats.Add(domain.Order{
			Total:         doc.Data.Total,
			Status:        domain.OrderStatus(doc.Data.Status),
			PaymentStatus: domain.PaymentStatus(doc.Data.PaymentStatus),
		})
	}
	return stats, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
