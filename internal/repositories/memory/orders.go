package memory

import (
	"context"
	"errors"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type orderRepo struct{ s *Store }

func orderKey(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.orders[order.ID]; exists {
		return repositories.NewConflict("orders.insert", errors.New("order already exists"))
	}
	for _, existing := range r.s.state.orders {
		if existing.OrderNumber == order.OrderNumber {
			return repositories.NewConflict("orders.insert", errors.New("order number already exists"))
		}
	}
	r.s.state.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.orders[order.ID]; !exists {
		return repositories.NewNotFound("orders.update")
	}
	r.s.state.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.s.lock(ctx)()
	order, ok := r.s.state.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.find_by_id")
	}
	return cloneOrder(order), nil
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	defer r.s.lock(ctx)()
	var items []domain.Order
	for _, order := range r.s.state.orders {
		if filter.Matches(order) {
			items = append(items, cloneOrder(order))
		}
	}
	pagination.SortNewestFirst(items, orderKey)
	page, next, err := pagination.Slice(items, filter.Pagination.PageSize, filter.Pagination.PageToken, orderKey)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return domain.CursorPage[domain.Order]{Items: page, NextPageToken: next}, nil
}

func (r orderRepo) ListUnpaidOnline(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	defer r.s.lock(ctx)()
	var out []domain.Order
	for _, order := range r.s.state.orders {
		if order.PaymentMethod != domain.PaymentMethodOnline || order.Status != domain.OrderStatusPending || order.Paid {
			continue
		}
		if !order.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	pagination.SortNewestFirst(out, orderKey)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r orderRepo) Stats(ctx context.Context) (domain.OrderStats, error) {
	defer r.s.lock(ctx)()
	var stats domain.OrderStats
	for _, order := range r.s.state.orders {
		stats.Add(order)
	}
	return stats, nil
}

type returnRepo struct{ s *Store }

func returnKey(r domain.OrderReturn) (time.Time, string) { return r.RequestedAt, r.ID }

func (r returnRepo) Insert(ctx context.Context, ret domain.OrderReturn) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.returns[ret.ID]; exists {
		return repositories.NewConflict("returns.insert", errors.New("return already exists"))
	}
	r.s.state.returns[ret.ID] = ret
	return nil
}

func (r returnRepo) Update(ctx context.Context, ret domain.OrderReturn) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.returns[ret.ID]; !exists {
		return repositories.NewNotFound("returns.update")
	}
	r.s.state.returns[ret.ID] = ret
	return nil
}

func (r returnRepo) FindByID(ctx context.Context, returnID string) (domain.OrderReturn, error) {
	defer r.s.lock(ctx)()
	ret, ok := r.s.state.returns[returnID]
	if !ok {
		return domain.OrderReturn{}, repositories.NewNotFound("returns.find_by_id")
	}
	return ret, nil
}

func (r returnRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderReturn, error) {
	defer r.s.lock(ctx)()
	var out []domain.OrderReturn
	for _, ret := range r.s.state.returns {
		if ret.OrderID == orderID {
			out = append(out, ret)
		}
	}
	pagination.SortNewestFirst(out, returnKey)
	return out, nil
}

func (r returnRepo) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.OrderReturn], error) {
	defer r.s.lock(ctx)()
	var items []domain.OrderReturn
	for _, ret := range r.s.state.returns {
		if filter.Matches(ret) {
			items = append(items, ret)
		}
	}
	pagination.SortNewestFirst(items, returnKey)
	page, next, err := pagination.Slice(items, filter.Pagination.PageSize, filter.Pagination.PageToken, returnKey)
	if err != nil {
		return domain.CursorPage[domain.OrderReturn]{}, err
	}
	return domain.CursorPage[domain.OrderReturn]{Items: page, NextPageToken: next}, nil
}
