//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/firestore/firestoretest"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(firestoretest.NewProvider(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

func seedVariant(t *testing.T, ctx context.Context, registry *Registry, id string, stock int) {
	t.Helper()
	client, err := registry.provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.Collection(variantsCollection).Doc(id).Set(ctx, variantDocument{ProductID: "p1", Price: 10000, Stock: stock, Listed: true}); err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	if _, err := client.Collection(productsCollection).Doc("p1").Set(ctx, productDocument{Name: "Diver", BrandID: "b1", CategoryID: "c1", Listed: true}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestCounterRepositoryConcurrentNext(t *testing.T) {
	registry := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 8
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			value, err := registry.Counters().Next(ctx, "orders", 1)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			results[i] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, value := range results {
		if value != int64(i+1) {
			t.Fatalf("expected contiguous sequence, got %v", results)
		}
	}
}

func TestCatalogDecrementStockAllOrNothing(t *testing.T) {
	registry := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	seedVariant(t, ctx, registry, "v1", 5)
	seedVariant(t, ctx, registry, "v2", 1)

	err := registry.Catalog().DecrementStock(ctx, []domain.StockLine{{VariantID: "v1", Quantity: 2}, {VariantID: "v2", Quantity: 3}})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.VariantID != "v2" {
		t.Fatalf("expected stock error for v2, got %v", err)
	}
	detail, err := registry.Catalog().GetVariant(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVariant: %v", err)
	}
	if detail.Variant.Stock != 5 || detail.Product.Name != "Diver" {
		t.Fatalf("expected untouched stock and joined product, got %+v", detail)
	}

	if err := registry.Catalog().DecrementStock(ctx, []domain.StockLine{{VariantID: "v1", Quantity: 2}}); err != nil {
		t.Fatalf("DecrementStock: %v", err)
	}
	if err := registry.Catalog().RestoreStock(ctx, []domain.StockLine{{VariantID: "v1", Quantity: 1}}); err != nil {
		t.Fatalf("RestoreStock: %v", err)
	}
	detail, _ = registry.Catalog().GetVariant(ctx, "v1")
	if detail.Variant.Stock != 4 {
		t.Fatalf("expected stock 4, got %d", detail.Variant.Stock)
	}
}

func TestPlacementStyleUnitOfWork(t *testing.T) {
	registry := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	seedVariant(t, ctx, registry, "v1", 2)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	coupon := domain.Coupon{ID: "c1", Code: "SAVE10", DiscountPercent: 10, UsageLimit: 1, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := registry.Coupons().Insert(ctx, coupon); err != nil {
		t.Fatalf("Insert coupon: %v", err)
	}
	if err := registry.Coupons().Insert(ctx, domain.Coupon{ID: "c2", Code: "save10", CreatedAt: now}); !repositories.IsConflict(err) {
		t.Fatalf("expected duplicate code conflict, got %v", err)
	}

	order := domain.Order{ID: "o1", OrderNumber: "DNG-2026-000001", UserID: "u1", Status: domain.OrderStatusConfirmed, CreatedAt: now,
		Items: []domain.OrderItem{{ID: "i1", VariantID: "v1", ProductName: "Diver", Quantity: 2, ListPrice: 10000, Price: 10000, Status: domain.ItemStatusActive}}}
	order.Recalculate()

	err := registry.RunInTx(ctx, func(ctx context.Context) error {
		if err := registry.Catalog().DecrementStock(ctx, domain.StockLines(order.Items)); err != nil {
			return err
		}
		// reads after queued writes must still be accepted
		if err := registry.Coupons().IncrementUsage(ctx, "c1"); err != nil {
			return err
		}
		if err := registry.Coupons().InsertUsage(ctx, domain.CouponUsage{CouponID: "c1", UserID: "u1", OrderID: "o1", Status: domain.CouponUsageRedeemed, UsedAt: now}); err != nil {
			return err
		}
		return registry.Orders().Insert(ctx, order)
	})
	if err != nil {
		t.Fatalf("unit of work: %v", err)
	}

	stored, err := registry.Orders().FindByID(ctx, "o1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Total != 20000 || len(stored.Items) != 1 {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{UserID: "u1", Search: "div"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected search hit, got %+v", page.Items)
	}
	if err := registry.Coupons().IncrementUsage(ctx, "c1"); !repositories.IsConflict(err) {
		t.Fatalf("expected exhausted coupon, got %v", err)
	}
}
