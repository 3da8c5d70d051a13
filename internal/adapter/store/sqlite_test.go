package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salesagent/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addProduct(t *testing.T, s *SQLiteStore, id, name, priceStr string, stock int64) {
	t.Helper()
	err := s.AddProduct(context.Background(), domain.Product{
		ID:       id,
		Name:     name,
		Category: "Fruits",
		Price:    decimal.RequireFromString(priceStr),
		Stock:    stock,
	})
	if err != nil {
		t.Fatalf("AddProduct %s: %v", name, err)
	}
}

func TestPlaceOrderDecrementsStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProduct(t, s, "p1", "Gala Apples", "2.00", 5)

	receipt, err := s.PlaceOrder(ctx, "cust-1", []domain.OrderRequestLine{
		{ProductName: "gala apples", Quantity: 5},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if got := receipt.Total.String(); got != "10.00" && got != "10" {
		t.Errorf("total = %s, want 10.00", got)
	}
	if len(receipt.Lines) != 1 || receipt.Lines[0].UnitPrice.String() != "2" && receipt.Lines[0].UnitPrice.String() != "2.00" {
		t.Errorf("unexpected receipt lines: %+v", receipt.Lines)
	}

	stock, err := s.ProductStock(ctx, "p1")
	if err != nil {
		t.Fatalf("ProductStock: %v", err)
	}
	if stock != 0 {
		t.Errorf("stock = %d, want 0", stock)
	}
}

func TestPlaceOrderInsufficientStockLeavesStockUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProduct(t, s, "p1", "Gala Apples", "2.00", 5)

	_, err := s.PlaceOrder(ctx, "cust-1", []domain.OrderRequestLine{
		{ProductName: "Gala Apples", Quantity: 6},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	stock, _ := s.ProductStock(ctx, "p1")
	if stock != 5 {
		t.Errorf("stock = %d, want 5 (unchanged)", stock)
	}
	orders, err := s.OrdersForCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("OrdersForCustomer: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("got %d orders, want 0", len(orders))
	}
}

func TestPlaceOrderMultiLineAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProduct(t, s, "p1", "Gala Apples", "2.00", 10)
	addProduct(t, s, "p2", "Bananas", "1.20", 2)

	// The first line is satisfiable, the second is not. Nothing may commit.
	_, err := s.PlaceOrder(ctx, "cust-1", []domain.OrderRequestLine{
		{ProductName: "Gala Apples", Quantity: 3},
		{ProductName: "Bananas", Quantity: 5},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	if stock, _ := s.ProductStock(ctx, "p1"); stock != 10 {
		t.Errorf("apples stock = %d, want 10", stock)
	}
	if stock, _ := s.ProductStock(ctx, "p2"); stock != 2 {
		t.Errorf("bananas stock = %d, want 2", stock)
	}
}

func TestPlaceOrderConcurrentLastUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProduct(t, s, "p1", "Sourdough Bread", "4.00", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.PlaceOrder(ctx, "cust-1", []domain.OrderRequestLine{
				{ProductName: "Sourdough Bread", Quantity: 1},
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("got %d successes and %d stock failures, want exactly 1 of each", ok, insufficient)
	}
	if stock, _ := s.ProductStock(ctx, "p1"); stock != 0 {
		t.Errorf("stock = %d, want 0", stock)
	}
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PlaceOrder(context.Background(), "cust-1", []domain.OrderRequestLine{
		{ProductName: "Dragonfruit", Quantity: 1},
	})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}
}

func TestPlaceOrderRequiresCustomer(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PlaceOrder(context.Background(), "", []domain.OrderRequestLine{
		{ProductName: "Gala Apples", Quantity: 1},
	})
	if !errors.Is(err, domain.ErrNoCustomer) {
		t.Fatalf("err = %v, want ErrNoCustomer", err)
	}
}

func TestSearchProductsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProduct(t, s, "p1", "Gala Apples", "2.00", 10)
	addProduct(t, s, "p2", "Fuji Apples", "2.50", 0)
	addProduct(t, s, "p3", "Bananas", "1.20", 5)

	got, err := s.SearchProducts(ctx, domain.ProductSearch{Query: "apples"})
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	// Out-of-stock products are hidden.
	if len(got) != 1 || got[0].Name != "Gala Apples" {
		t.Fatalf("got %+v, want only Gala Apples", got)
	}

	max := decimal.RequireFromString("1.50")
	got, err = s.SearchProducts(ctx, domain.ProductSearch{MaxPrice: &max})
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Bananas" {
		t.Fatalf("got %+v, want only Bananas", got)
	}
}

func TestOrderHistoryAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProduct(t, s, "p1", "Gala Apples", "2.00", 10)

	receipt, err := s.PlaceOrder(ctx, "cust-1", []domain.OrderRequestLine{
		{ProductName: "Gala Apples", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	detail, err := s.OrderByID(ctx, "cust-1", receipt.OrderID)
	if err != nil {
		t.Fatalf("OrderByID: %v", err)
	}
	if detail.Status != domain.OrderStatusCompleted {
		t.Errorf("status = %s, want Completed", detail.Status)
	}
	if !detail.Total.Equal(decimal.RequireFromString("4.00")) {
		t.Errorf("total = %s, want 4.00", detail.Total)
	}

	// Another customer cannot read the order.
	if _, err := s.OrderByID(ctx, "cust-2", receipt.OrderID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("cross-customer lookup err = %v, want ErrOrderNotFound", err)
	}

	history, err := s.OrdersForCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("OrdersForCustomer: %v", err)
	}
	if len(history) != 1 || history[0].OrderID != receipt.OrderID {
		t.Fatalf("history = %+v, want the one placed order", history)
	}
}

func TestRecommendationsFallbackWithoutHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProduct(t, s, "p1", "Gala Apples", "2.00", 10)
	addProduct(t, s, "p2", "Bananas", "1.20", 5)

	got, err := s.Recommendations(ctx, "new-customer", 5)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d recommendations, want 2", len(got))
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := s.Seed(ctx); err != nil {
		t.Fatalf("second Seed: %v", err)
	}

	got, err := s.SearchProducts(ctx, domain.ProductSearch{Query: "gala"})
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d gala products, want 1", len(got))
	}
	if !got[0].Price.Equal(decimal.RequireFromString("2.00")) || got[0].Stock != 10 {
		t.Errorf("seeded gala apples = %s / %d, want 2.00 / 10", got[0].Price, got[0].Stock)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	th, err := s.Load(ctx, "t1", "cust-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(th.Messages) != 0 {
		t.Fatalf("fresh thread has %d messages", len(th.Messages))
	}

	th.Append(domain.Message{Role: domain.RoleUser, Content: "hello"})
	th.Append(domain.Message{Role: domain.RoleAssistant, Content: "hi there"})
	if err := s.Save(ctx, th); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Read-your-writes: an immediate Load sees the saved record.
	got, err := s.Load(ctx, "t1", "cust-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "hi there" {
		t.Fatalf("reloaded thread = %+v", got.Messages)
	}
}

func TestCheckpointGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrThreadNotFound) {
		t.Fatalf("err = %v, want ErrThreadNotFound", err)
	}
}

func TestReapStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := domain.NewThread("old", "cust-1")
	if err := s.Save(ctx, old); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Backdate the row past the cutoff.
	stale := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339Nano)
	if _, err := s.db.Exec("UPDATE threads SET updated_at = ? WHERE id = ?", stale, "old"); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	fresh := domain.NewThread("fresh", "cust-1")
	if err := s.Save(ctx, fresh); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n, err := s.ReapStale(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, domain.ErrThreadNotFound) {
		t.Errorf("old thread still present: %v", err)
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh thread reaped: %v", err)
	}
}
