package baseline

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

var day0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func approved(id string, qty float64, offsetDays int) domain.Ticket {
	return domain.Ticket{
		ID:           id,
		DriverID:     "drv-1",
		MaterialType: "Crushed Stone",
		Quantity:     qty,
		PayRate:      80,
		BillRate:     110,
		DeliveryDate: day0.AddDate(0, 0, offsetDays),
		Status:       domain.TicketStatusApproved,
	}
}

func TestGetRequiresMinimumSamples(t *testing.T) {
	s := NewStore(domain.DefaultPolicy())
	s.Update(approved("t1", 14, 0))
	s.Update(approved("t2", 15, 1))
	if _, ok := s.Get("drv-1", "Crushed Stone", domain.FieldQuantity); ok {
		t.Fatalf("expected no baseline with two samples")
	}
	s.Update(approved("t3", 14.5, 2))
	b, ok := s.Get("drv-1", "crushed stone", domain.FieldQuantity)
	if !ok {
		t.Fatalf("expected baseline after three samples")
	}
	if b.Samples != 3 || math.Abs(b.Mean-14.5) > 1e-9 || b.Median != 14.5 {
		t.Fatalf("unexpected baseline %+v", b)
	}
	if b.Key.Scope != domain.ScopeDriverMaterial {
		t.Fatalf("unexpected key %v", b.Key)
	}
}

func TestUpdateIgnoresUntrustedStatuses(t *testing.T) {
	s := NewStore(domain.DefaultPolicy())
	for i, status := range []domain.TicketStatus{
		domain.TicketStatusPending,
		domain.TicketStatusDenied,
		domain.TicketStatusVoided,
		domain.TicketStatusMissingPendingApproval,
		domain.TicketStatusCancelled,
	} {
		tk := approved(fmt.Sprintf("t%d", i), 40, i)
		tk.Status = status
		if s.Update(tk) {
			t.Fatalf("status %s must not feed the baseline", status)
		}
	}
	if s.Keys() != 0 {
		t.Fatalf("expected empty store, got %d keys", s.Keys())
	}
}

func TestUpdateCountsTicketOnceAcrossLifecycle(t *testing.T) {
	s := NewStore(domain.DefaultPolicy())
	tk := approved("t1", 10, 0)
	s.Update(tk)
	tk.Status = domain.TicketStatusInvoiced
	s.Update(tk)
	tk.Status = domain.TicketStatusPaid
	s.Update(tk)
	s.Update(approved("t2", 20, 1))
	s.Update(approved("t3", 30, 2))
	b, ok := s.Get("drv-1", "Crushed Stone", domain.FieldQuantity)
	if !ok || b.Samples != 3 || b.Mean != 20 {
		t.Fatalf("expected 3 distinct samples averaging 20, got %+v", b)
	}
}

func TestWindowIsBoundedByCountAndAge(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.BaselineWindowSize = 3
	policy.BaselineMaxAge = 10 * 24 * time.Hour
	s := NewStore(policy)

	s.Update(approved("old", 1000, 0))
	for i := 1; i <= 4; i++ {
		s.Update(approved(fmt.Sprintf("t%d", i), 10, 20+i))
	}
	b, ok := s.Get("drv-1", "Crushed Stone", domain.FieldQuantity)
	if !ok {
		t.Fatalf("expected baseline")
	}
	if b.Samples != 3 || b.Mean != 10 {
		t.Fatalf("expected only the three newest samples, got %+v", b)
	}
}

func TestRouteFallback(t *testing.T) {
	s := NewStore(domain.DefaultPolicy())
	for i := 0; i < 3; i++ {
		tk := approved(fmt.Sprintf("r%d", i), 18, i)
		tk.DriverID = fmt.Sprintf("drv-%d", i+10)
		tk.Route = "PIT-7>SITE-12"
		s.Update(tk)
	}
	newcomer := domain.Ticket{DriverID: "drv-new", MaterialType: "Crushed Stone", Route: "PIT-7>SITE-12"}
	b, ok := s.Lookup(newcomer, domain.FieldQuantity)
	if !ok || b.Key.Scope != domain.ScopeRoute || b.Mean != 18 {
		t.Fatalf("expected route baseline, got %+v ok=%v", b, ok)
	}
}

func TestConcurrentUpdatesDoNotLoseSamples(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.BaselineWindowSize = 1000
	s := NewStore(policy)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk := approved(fmt.Sprintf("c%d", i), 12, i%30)
			if i%2 == 0 {
				tk.DriverID = "drv-2"
			}
			s.Update(tk)
		}(i)
	}
	wg.Wait()
	for _, driver := range []string{"drv-1", "drv-2"} {
		b, ok := s.Get(driver, "Crushed Stone", domain.FieldQuantity)
		if !ok || b.Samples != 100 {
			t.Fatalf("driver %s: expected 100 samples, got %+v", driver, b)
		}
	}
}
