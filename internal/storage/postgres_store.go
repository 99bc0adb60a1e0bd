package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/example/ride-tracking/internal/models"
)

const rideColumns = `id, passenger_id, driver_id, pickup_address, destination_address,
	pickup_lat, pickup_lng, dest_lat, dest_lng, driver_lat, driver_lng,
	status, request_time, pickup_time, dropoff_time, fare`

// PostgresStore is a durable Store. Transition relies on SELECT ... FOR
// UPDATE so concurrent writers of one ride serialize on the row lock.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes the SQL file at path.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, string(b))
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresStore) Upsert(ctx context.Context, r models.Ride) error {
	return upsertRide(ctx, p.db, r)
}

func (p *PostgresStore) Transition(ctx context.Context, id string, fn Mutator) (models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Ride{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanRide(tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.Ride{}, err
	}
	next, err := fn(cur)
	if err != nil {
		return models.Ride{}, err
	}
	next.ID = cur.ID
	if err := upsertRide(ctx, tx, next); err != nil {
		return models.Ride{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Ride{}, fmt.Errorf("commit ride %s: %w", id, err)
	}
	return next, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides ORDER BY request_time DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRide(ctx context.Context, db execer, r models.Ride) error {
	pLat, pLng := coordArgs(r.PickupCoords)
	dLat, dLng := coordArgs(r.DestinationCoords)
	vLat, vLng := coordArgs(r.DriverLocation)
	_, err := db.ExecContext(ctx, `
		INSERT INTO rides (`+rideColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			passenger_id = EXCLUDED.passenger_id,
			driver_id = EXCLUDED.driver_id,
			pickup_address = EXCLUDED.pickup_address,
			destination_address = EXCLUDED.destination_address,
			pickup_lat = EXCLUDED.pickup_lat,
			pickup_lng = EXCLUDED.pickup_lng,
			dest_lat = EXCLUDED.dest_lat,
			dest_lng = EXCLUDED.dest_lng,
			driver_lat = EXCLUDED.driver_lat,
			driver_lng = EXCLUDED.driver_lng,
			status = EXCLUDED.status,
			request_time = EXCLUDED.request_time,
			pickup_time = EXCLUDED.pickup_time,
			dropoff_time = EXCLUDED.dropoff_time,
			fare = EXCLUDED.fare`,
		r.ID, r.PassengerID, r.DriverID, r.PickupAddress, r.DestinationAddress,
		pLat, pLng, dLat, dLng, vLat, vLng,
		string(r.Status), r.RequestTime, r.PickupTime, r.DropoffTime, r.Fare,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (models.Ride, error) {
	var r models.Ride
	var status string
	var pLat, pLng, dLat, dLng, vLat, vLng, fare sql.NullFloat64
	var pickupTime, dropoffTime sql.NullTime
	err := s.Scan(
		&r.ID, &r.PassengerID, &r.DriverID, &r.PickupAddress, &r.DestinationAddress,
		&pLat, &pLng, &dLat, &dLng, &vLat, &vLng,
		&status, &r.RequestTime, &pickupTime, &dropoffTime, &fare,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, ErrNotFound
	}
	if err != nil {
		return models.Ride{}, err
	}
	r.Status = models.Status(status)
	if !r.Status.Valid() {
		return models.Ride{}, fmt.Errorf("ride %s: unknown status %q", r.ID, status)
	}
	r.PickupCoords = coordFrom(pLat, pLng)
	r.DestinationCoords = coordFrom(dLat, dLng)
	r.DriverLocation = coordFrom(vLat, vLng)
	if pickupTime.Valid {
		t := pickupTime.Time
		r.PickupTime = &t
	}
	if dropoffTime.Valid {
		t := dropoffTime.Time
		r.DropoffTime = &t
	}
	if fare.Valid {
		f := fare.Float64
		r.Fare = &f
	}
	return r, nil
}

func coordArgs(c *models.Coordinate) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lng
}

func coordFrom(lat, lng sql.NullFloat64) *models.Coordinate {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
}
