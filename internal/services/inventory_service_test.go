package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories"
)

type stubProductRepo struct {
	findFn    func(context.Context, string) (domain.Product, error)
	reserveFn func(context.Context, string, int64) (domain.Product, error)
	releaseFn func(context.Context, string, int64) (domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) Reserve(ctx context.Context, productID string, quantity int64) (domain.Product, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, productID, quantity)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) Release(ctx context.Context, productID string, quantity int64) (domain.Product, error) {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, productID, quantity)
	}
	return domain.Product{}, errors.New("not implemented")
}

func TestInventoryServiceReserveSuccess(t *testing.T) {
	var gotID string
	var gotQty int64
	repo := &stubProductRepo{
		reserveFn: func(_ context.Context, productID string, quantity int64) (domain.Product, error) {
			gotID, gotQty = productID, quantity
			return domain.Product{ID: productID, Stock: 7, SoldCount: 3}, nil
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	product, err := svc.Reserve(context.Background(), InventoryCommand{ProductID: " prd_vitc ", Quantity: 3})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if gotID != "prd_vitc" || gotQty != 3 {
		t.Fatalf("unexpected repository call %s x%d", gotID, gotQty)
	}
	if product.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", product.Stock)
	}
}

func TestInventoryServiceReserveInsufficientStock(t *testing.T) {
	logs := &logRecorder{}
	repo := &stubProductRepo{
		reserveFn: func(_ context.Context, productID string, _ int64) (domain.Product, error) {
			invErr := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, "", nil)
			invErr.Remaining = 1
			return domain.Product{}, invErr
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo, Logger: logs.log})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	_, err = svc.Reserve(context.Background(), InventoryCommand{ProductID: "prd_last", Quantity: 2})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Remaining != 1 || stockErr.Requested != 2 {
		t.Fatalf("unexpected stock error %+v", stockErr)
	}
	assertEventLogged(t, logs, "inventory.reserve_rejected")
}

func TestInventoryServiceMapsRepositoryErrors(t *testing.T) {
	unavailable := errors.New("connection reset")
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"missing product", repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "prd_x", "", nil), ErrProductNotFound},
		{"not found row", database.NotFound("products.reserve", "missing"), ErrProductNotFound},
		{"bad input", repositories.NewInventoryError(repositories.InventoryErrorUnknown, "prd_x", "quantity overflow", nil), ErrInventoryInvalidInput},
		{"driver failure", repositories.NewInventoryError(repositories.InventoryErrorUnknown, "prd_x", "", unavailable), unavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubProductRepo{
				reserveFn: func(context.Context, string, int64) (domain.Product, error) {
					return domain.Product{}, tc.err
				},
			}
			svc, err := NewInventoryService(InventoryServiceDeps{Products: repo})
			if err != nil {
				t.Fatalf("NewInventoryService: %v", err)
			}
			if _, err := svc.Reserve(context.Background(), InventoryCommand{ProductID: "prd_x", Quantity: 1}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInventoryServiceValidatesCommands(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Products: &stubProductRepo{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	for _, cmd := range []InventoryCommand{
		{ProductID: "", Quantity: 1},
		{ProductID: "prd_vitc", Quantity: 0},
		{ProductID: "prd_vitc", Quantity: -2},
	} {
		if _, err := svc.Reserve(context.Background(), cmd); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("Reserve(%+v): expected ErrInventoryInvalidInput, got %v", cmd, err)
		}
		if _, err := svc.Release(context.Background(), cmd); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("Release(%+v): expected ErrInventoryInvalidInput, got %v", cmd, err)
		}
	}
}

func TestInventoryServiceGetAvailability(t *testing.T) {
	core := newTestCore(t)
	seedCatalog(core.store)

	availability, err := core.inventory.GetAvailability(context.Background(), "prd_last")
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}
	if !availability.InStock || availability.Stock != 1 {
		t.Fatalf("unexpected availability %+v", availability)
	}
	if _, err := core.inventory.GetAvailability(context.Background(), "prd_ghost"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestInventoryServiceConcurrentReservationsNeverOversell(t *testing.T) {
	core := newTestCore(t)
	core.store.addProduct(domain.Product{ID: "prd_flu", Name: "Flu test kit", Price: money("90000"), Stock: 10})

	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.inventory.Reserve(context.Background(), InventoryCommand{ProductID: "prd_flu", Quantity: 3})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 3 || rejected.Load() != 5 {
		t.Fatalf("expected 3 reservations and 5 rejections, got %d/%d", ok.Load(), rejected.Load())
	}
	if got := core.store.product(t, "prd_flu"); got.Stock != 1 || got.SoldCount != 9 {
		t.Fatalf("unexpected final stock %+v", got)
	}
}
