package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

const rideColumns = `id, rider_id, driver_id, pickup_lat, pickup_lng, drop_lat, drop_lng,
	distance_km, estimated_fare, driver_lat, driver_lng, pin, status, created_at, accepted_at`

// PostgresStore persists rides in the rides table (migrations/001_create_rides.sql).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Insert(ctx context.Context, r models.Ride) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO rides
		(id, rider_id, pickup_lat, pickup_lng, drop_lat, drop_lng, distance_km, estimated_fare, pin, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+rideColumns,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lng, r.Drop.Lat, r.Drop.Lng,
		nullFloat(r.DistanceKm), nullFloat(r.EstimatedFare), r.PIN, string(r.Status), r.CreatedAt)
	out, err := scanRide(row)
	if isUniqueViolation(err) {
		return models.Ride{}, ErrDuplicateID
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("insert ride: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return p.one(row, "get ride")
}

// Claim assigns the driver only while no driver is set. Postgres re-evaluates
// the WHERE clause after acquiring the row lock, so concurrent claimants on
// the same row produce exactly one RETURNING row.
func (p *PostgresStore) Claim(ctx context.Context, id, driverID string, at time.Time) (models.Ride, bool, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides
		SET driver_id = $1, status = 'accepted', accepted_at = $3
		WHERE id = $2 AND driver_id IS NULL AND status = 'requested'
		RETURNING `+rideColumns, driverID, id, at)
	return p.conditional(row, "claim ride")
}

func (p *PostgresStore) VerifyPIN(ctx context.Context, id, pin string) (models.Ride, bool, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides
		SET status = 'in_progress'
		WHERE id = $1 AND pin = $2
		RETURNING `+rideColumns, id, pin)
	return p.conditional(row, "verify pin")
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status models.Status) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET status = $1 WHERE id = $2 RETURNING `+rideColumns,
		string(status), id)
	return p.one(row, "set status")
}

func (p *PostgresStore) SetDriverLocation(ctx context.Context, id string, loc models.Coord) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET driver_lat = $1, driver_lng = $2 WHERE id = $3 RETURNING `+rideColumns,
		loc.Lat, loc.Lng, id)
	return p.one(row, "set driver location")
}

func (p *PostgresStore) ListAvailable(ctx context.Context) ([]models.Ride, error) {
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status = 'requested' AND driver_id IS NULL
		ORDER BY created_at DESC`)
}

func (p *PostgresStore) ListByRider(ctx context.Context, riderID string, status *models.Status) ([]models.Ride, error) {
	if status != nil {
		return p.list(ctx, `SELECT `+rideColumns+` FROM rides
			WHERE rider_id = $1 AND status = $2
			ORDER BY created_at DESC`, riderID, string(*status))
	}
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE rider_id = $1
		ORDER BY created_at DESC`, riderID)
}

func (p *PostgresStore) one(row *sql.Row, op string) (models.Ride, error) {
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
		return models.Ride{}, ErrNotFound
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func (p *PostgresStore) conditional(row *sql.Row, op string) (models.Ride, bool, error) {
	r, err := p.one(row, op)
	if errors.Is(err, ErrNotFound) {
		return models.Ride{}, false, nil
	}
	if err != nil {
		return models.Ride{}, false, err
	}
	return r, true, nil
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer rows.Close()
	out := []models.Ride{}
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (models.Ride, error) {
	var (
		r                    models.Ride
		driverID             sql.NullString
		distance, fare       sql.NullFloat64
		driverLat, driverLng sql.NullFloat64
		status               string
		acceptedAt           sql.NullTime
	)
	err := s.Scan(&r.ID, &r.RiderID, &driverID,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Drop.Lat, &r.Drop.Lng,
		&distance, &fare, &driverLat, &driverLng,
		&r.PIN, &status, &r.CreatedAt, &acceptedAt)
	if err != nil {
		return models.Ride{}, err
	}
	r.Status = models.Status(status)
	if driverID.Valid {
		r.DriverID = &driverID.String
	}
	if distance.Valid {
		r.DistanceKm = &distance.Float64
	}
	if fare.Valid {
		r.EstimatedFare = &fare.Float64
	}
	if driverLat.Valid && driverLng.Valid {
		r.DriverLocation = &models.Coord{Lat: driverLat.Float64, Lng: driverLng.Float64}
	}
	if acceptedAt.Valid {
		r.AcceptedAt = &acceptedAt.Time
	}
	return r, nil
}

// isInvalidID reports a malformed uuid literal, which can never match a row.
func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
