package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound is returned by point operations addressing a missing ride.
	ErrNotFound = errors.New("ride not found")
	// ErrDuplicateID is returned by Insert when the ride id already exists.
	ErrDuplicateID = errors.New("ride id already exists")
)

// RideStore defines persistence operations for rides. Claim and VerifyPIN are
// conditional writes: they report ok=false when no row matched the guard and
// reserve the error return for store failures. Claim stamps accepted_at with
// the caller's clock so it shares a time source with created_at.
type RideStore interface {
	Insert(ctx context.Context, r models.Ride) (models.Ride, error)
	Get(ctx context.Context, id string) (models.Ride, error)
	Claim(ctx context.Context, id, driverID string, at time.Time) (models.Ride, bool, error)
	VerifyPIN(ctx context.Context, id, pin string) (models.Ride, bool, error)
	SetStatus(ctx context.Context, id string, status models.Status) (models.Ride, error)
	SetDriverLocation(ctx context.Context, id string, loc models.Coord) (models.Ride, error)
	ListAvailable(ctx context.Context) ([]models.Ride, error)
	ListByRider(ctx context.Context, riderID string, status *models.Status) ([]models.Ride, error)
	Ping(ctx context.Context) error
}
