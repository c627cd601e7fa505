package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func newRide(id, rider string, at time.Time) models.Ride {
	return models.Ride{
		ID: id, RiderID: rider, PIN: "0420", Status: models.StatusRequested, CreatedAt: at,
		Pickup: models.Coord{Lat: 12.9, Lng: 77.6}, Drop: models.Coord{Lat: 12.95, Lng: 77.65},
	}
}

func TestMemoryStoreClaimIsConditional(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, _ = m.Insert(ctx, newRide("r1", "R1", time.Now()))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := m.Claim(ctx, "r1", fmt.Sprintf("D%d", i), time.Now())
			if err != nil {
				t.Errorf("claim: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if _, ok, _ := m.Claim(ctx, "missing", "D1", time.Now()); ok {
		t.Fatalf("claim on a missing ride succeeded")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, _ = m.Insert(ctx, newRide("r1", "R1", time.Now()))
	got, _ := m.SetDriverLocation(ctx, "r1", models.Coord{Lat: 1, Lng: 1})
	got.DriverLocation.Lat = 50

	again, _ := m.Get(ctx, "r1")
	if again.DriverLocation.Lat != 1 {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestMemoryStoreOrderingAndFilters(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	_, _ = m.Insert(ctx, newRide("old", "R1", base))
	_, _ = m.Insert(ctx, newRide("new", "R1", base.Add(time.Second)))
	_, _ = m.Insert(ctx, newRide("tie", "R2", base.Add(time.Second)))

	avail, _ := m.ListAvailable(ctx)
	if len(avail) != 3 || avail[0].ID != "tie" || avail[1].ID != "new" || avail[2].ID != "old" {
		t.Fatalf("unexpected order %v", ids(avail))
	}

	_, _, _ = m.Claim(ctx, "new", "D1", time.Now())
	avail, _ = m.ListAvailable(ctx)
	if len(avail) != 2 {
		t.Fatalf("claimed ride still available: %v", ids(avail))
	}

	accepted := models.StatusAccepted
	mine, _ := m.ListByRider(ctx, "R1", &accepted)
	if len(mine) != 1 || mine[0].ID != "new" {
		t.Fatalf("status filter: %v", ids(mine))
	}
	all, _ := m.ListByRider(ctx, "R1", nil)
	if len(all) != 2 {
		t.Fatalf("rider filter: %v", ids(all))
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if _, err := m.Get(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	if _, err := m.SetStatus(ctx, "x", models.StatusCancelled); !errors.Is(err, ErrNotFound) {
		t.Fatalf("set status: %v", err)
	}
	if _, err := m.SetDriverLocation(ctx, "x", models.Coord{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("set location: %v", err)
	}
	if _, ok, err := m.VerifyPIN(ctx, "x", "0420"); ok || err != nil {
		t.Fatalf("verify pin: %v %v", ok, err)
	}
}

func ids(rs []models.Ride) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestMemoryStoreClaimStampsCallerTime(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	created := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	_, _ = m.Insert(ctx, newRide("r1", "R1", created))

	at := created.Add(90 * time.Second)
	got, ok, err := m.Claim(ctx, "r1", "D1", at)
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if got.AcceptedAt == nil || !got.AcceptedAt.Equal(at) {
		t.Fatalf("accepted_at = %v, want %v", got.AcceptedAt, at)
	}
}

func TestMemoryStoreRejectsDuplicateID(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if _, err := m.Insert(ctx, newRide("r1", "R1", time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := newRide("r1", "R2", time.Now())
	dup.PIN = "9999"
	if _, err := m.Insert(ctx, dup); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	got, _ := m.Get(ctx, "r1")
	if got.RiderID != "R1" || got.PIN != "0420" {
		t.Fatalf("duplicate insert overwrote the ride: %+v", got)
	}
}
