package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps rides in process memory. Every method runs under a single
// lock, which gives Claim and VerifyPIN the same per-row atomicity as the
// conditional UPDATE in PostgresStore.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	rides map[string]*memRow
}

type memRow struct {
	seq  int64
	ride models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*memRow)}
}

func (m *MemoryStore) Insert(_ context.Context, r models.Ride) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return models.Ride{}, ErrDuplicateID
	}
	m.seq++
	m.rides[r.ID] = &memRow{seq: m.seq, ride: cloneRide(r)}
	return cloneRide(r), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	return cloneRide(row.ride), nil
}

func (m *MemoryStore) Claim(_ context.Context, id, driverID string, at time.Time) (models.Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rides[id]
	if !ok || row.ride.Assigned() || row.ride.Status != models.StatusRequested {
		return models.Ride{}, false, nil
	}
	row.ride.DriverID = &driverID
	row.ride.Status = models.StatusAccepted
	row.ride.AcceptedAt = &at
	return cloneRide(row.ride), true, nil
}

func (m *MemoryStore) VerifyPIN(_ context.Context, id, pin string) (models.Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rides[id]
	if !ok || row.ride.PIN != pin {
		return models.Ride{}, false, nil
	}
	row.ride.Status = models.StatusInProgress
	return cloneRide(row.ride), true, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status models.Status) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	row.ride.Status = status
	return cloneRide(row.ride), nil
}

func (m *MemoryStore) SetDriverLocation(_ context.Context, id string, loc models.Coord) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	row.ride.DriverLocation = &loc
	return cloneRide(row.ride), nil
}

func (m *MemoryStore) ListAvailable(_ context.Context) ([]models.Ride, error) {
	return m.scan(func(r models.Ride) bool {
		return r.Status == models.StatusRequested && r.DriverID == nil
	}), nil
}

func (m *MemoryStore) ListByRider(_ context.Context, riderID string, status *models.Status) ([]models.Ride, error) {
	return m.scan(func(r models.Ride) bool {
		if r.RiderID != riderID {
			return false
		}
		return status == nil || r.Status == *status
	}), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// scan returns matching rides newest first; insertion order breaks
// created_at ties.
func (m *MemoryStore) scan(keep func(models.Ride) bool) []models.Ride {
	m.mu.RLock()
	rows := make([]*memRow, 0, len(m.rides))
	for _, row := range m.rides {
		if keep(row.ride) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.ride.CreatedAt.Equal(b.ride.CreatedAt) {
			return a.ride.CreatedAt.After(b.ride.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]models.Ride, 0, len(rows))
	for _, row := range rows {
		out = append(out, cloneRide(row.ride))
	}
	m.mu.RUnlock()
	return out
}

func cloneRide(r models.Ride) models.Ride {
	if r.DriverID != nil {
		v := *r.DriverID
		r.DriverID = &v
	}
	if r.DistanceKm != nil {
		v := *r.DistanceKm
		r.DistanceKm = &v
	}
	if r.EstimatedFare != nil {
		v := *r.EstimatedFare
		r.EstimatedFare = &v
	}
	if r.DriverLocation != nil {
		v := *r.DriverLocation
		r.DriverLocation = &v
	}
	if r.AcceptedAt != nil {
		v := *r.AcceptedAt
		r.AcceptedAt = &v
	}
	return r
}
