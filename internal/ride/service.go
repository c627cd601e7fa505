package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Publisher receives committed lifecycle changes. Delivery is best-effort.
type Publisher interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
	PublishLocation(ctx context.Context, ev models.LocationEvent) error
}

// Service is the ride lifecycle engine. It holds no ride state between calls;
// every operation reads and writes through the store.
type Service struct {
	Store  storage.RideStore
	Events Publisher // optional
	Logger *slog.Logger
	NewPIN PINSource
	NewID  func() string
	Now    func() time.Time
}

func NewService(store storage.RideStore, events Publisher, logger *slog.Logger) *Service {
	return &Service{Store: store, Events: events, Logger: logger}
}

type CreateRequest struct {
	RiderID       string
	Pickup        *models.Coord
	Drop          *models.Coord
	DistanceKm    *float64
	EstimatedFare *float64
}

func (r CreateRequest) validate() error {
	var problems []string
	if strings.TrimSpace(r.RiderID) == "" {
		problems = append(problems, "rider id required")
	}
	if r.Pickup == nil {
		problems = append(problems, "pickup required")
	} else if !r.Pickup.Valid() {
		problems = append(problems, "pickup out of range")
	}
	if r.Drop == nil {
		problems = append(problems, "drop required")
	} else if !r.Drop.Valid() {
		problems = append(problems, "drop out of range")
	}
	if r.DistanceKm != nil && *r.DistanceKm < 0 {
		problems = append(problems, "distance_km must be >= 0")
	}
	if r.EstimatedFare != nil && *r.EstimatedFare < 0 {
		problems = append(problems, "estimated_fare must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// AvailableQuery carries the discovery hints. They are accepted but do not
// filter the result.
type AvailableQuery struct {
	Near     *models.Coord
	RadiusKm float64
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (models.Ride, error) {
	if err := req.validate(); err != nil {
		return models.Ride{}, err
	}
	pin, err := s.pin()
	if err != nil {
		return models.Ride{}, err
	}
	r := models.Ride{
		ID:            s.id(),
		RiderID:       req.RiderID,
		Pickup:        *req.Pickup,
		Drop:          *req.Drop,
		DistanceKm:    req.DistanceKm,
		EstimatedFare: req.EstimatedFare,
		PIN:           pin,
		Status:        models.StatusRequested,
		CreatedAt:     s.now(),
	}
	out, err := s.Store.Insert(ctx, r)
	if err != nil {
		return models.Ride{}, err
	}
	observability.RidesCreated.Inc()
	s.logger().Info("ride created", "ride_id", out.ID, "rider_id", out.RiderID)
	s.publish(ctx, models.EventRideCreated, out)
	return out, nil
}

func (s *Service) ListAvailable(ctx context.Context, q AvailableQuery) ([]models.Ride, error) {
	if q.Near != nil && !q.Near.Valid() {
		return nil, fmt.Errorf("%w: lat/lng out of range", ErrValidation)
	}
	if q.RadiusKm < 0 {
		return nil, fmt.Errorf("%w: radius_km must be >= 0", ErrValidation)
	}
	return s.Store.ListAvailable(ctx)
}

// Claim makes driverID the assigned driver. Exactly one of any number of
// concurrent claimants wins; the rest get ErrNotAvailable.
func (s *Service) Claim(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	if rideID == "" || strings.TrimSpace(driverID) == "" {
		return models.Ride{}, fmt.Errorf("%w: ride id and driver id required", ErrValidation)
	}
	r, ok, err := s.Store.Claim(ctx, rideID, driverID, s.now())
	if err != nil {
		observability.ClaimsTotal.WithLabelValues("error").Inc()
		return models.Ride{}, err
	}
	if !ok {
		observability.ClaimsTotal.WithLabelValues("not_available").Inc()
		return models.Ride{}, ErrNotAvailable
	}
	observability.ClaimsTotal.WithLabelValues("won").Inc()
	s.logger().Info("ride claimed", "ride_id", r.ID, "driver_id", driverID)
	s.publish(ctx, models.EventRideClaimed, r)
	return r, nil
}

// UpdateDriverLocation overwrites the ride's driver position. Status and
// assignment are not checked.
func (s *Service) UpdateDriverLocation(ctx context.Context, rideID string, lat, lng float64) (models.Ride, error) {
	loc := models.Coord{Lat: lat, Lng: lng}
	if !loc.Valid() {
		return models.Ride{}, fmt.Errorf("%w: driver location out of range", ErrValidation)
	}
	r, err := s.Store.SetDriverLocation(ctx, rideID, loc)
	if err != nil {
		return models.Ride{}, s.mapStoreErr(err)
	}
	observability.LocationUpdates.Inc()
	if s.Events != nil {
		ev := models.LocationEvent{RideID: r.ID, Loc: loc, Updated: s.now()}
		if r.Assigned() {
			ev.DriverID = *r.DriverID
		}
		if err := s.Events.PublishLocation(ctx, ev); err != nil {
			observability.EventPublishErrors.WithLabelValues(string(models.EventLocationUpdated)).Inc()
			s.logger().Warn("publish location failed", "ride_id", r.ID, "error", err)
		}
	}
	return r, nil
}

// VerifyPIN moves the ride to in_progress when pin matches. The prior status
// is not checked.
func (s *Service) VerifyPIN(ctx context.Context, rideID, pin string) (models.Ride, error) {
	if pin == "" {
		return models.Ride{}, fmt.Errorf("%w: pin required", ErrValidation)
	}
	// Only four ASCII digits can match; nothing else reaches the store.
	if !ValidPIN(pin) {
		observability.PINVerifications.WithLabelValues("rejected").Inc()
		return models.Ride{}, ErrInvalidPIN
	}
	r, ok, err := s.Store.VerifyPIN(ctx, rideID, pin)
	if err != nil {
		observability.PINVerifications.WithLabelValues("error").Inc()
		return models.Ride{}, err
	}
	if !ok {
		observability.PINVerifications.WithLabelValues("rejected").Inc()
		s.logger().Warn("pin rejected", "ride_id", rideID)
		return models.Ride{}, ErrInvalidPIN
	}
	observability.PINVerifications.WithLabelValues("ok").Inc()
	s.publish(ctx, models.EventPINVerified, r)
	return r, nil
}

// SetStatus overwrites the status. Only the allow-list is enforced; there is
// no prior-state precondition.
func (s *Service) SetStatus(ctx context.Context, rideID string, status models.Status) (models.Ride, error) {
	if !status.Valid() {
		return models.Ride{}, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	r, err := s.Store.SetStatus(ctx, rideID, status)
	if err != nil {
		return models.Ride{}, s.mapStoreErr(err)
	}
	observability.StatusUpdates.WithLabelValues(string(status)).Inc()
	s.logger().Info("ride status set", "ride_id", r.ID, "status", status)
	s.publish(ctx, models.EventStatusChanged, r)
	return r, nil
}

func (s *Service) Get(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return models.Ride{}, s.mapStoreErr(err)
	}
	return r, nil
}

func (s *Service) ListByRider(ctx context.Context, riderID string, status *models.Status) ([]models.Ride, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, fmt.Errorf("%w: rider id required", ErrValidation)
	}
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, *status)
	}
	return s.Store.ListByRider(ctx, riderID, status)
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) publish(ctx context.Context, t models.EventType, r models.Ride) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishRideEvent(ctx, models.EventFor(t, r, s.now())); err != nil {
		observability.EventPublishErrors.WithLabelValues(string(t)).Inc()
		s.logger().Warn("publish ride event failed", "type", t, "ride_id", r.ID, "error", err)
	}
}

func (s *Service) pin() (string, error) {
	if s.NewPIN != nil {
		return s.NewPIN()
	}
	return RandomPIN()
}

func (s *Service) id() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
