package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/city-rides/internal/models"
)

// PostgresStore persists rides and offers. All state-changing writes
// are single conditional UPDATEs so the database's row atomicity is
// the only locking in the system.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `id, client_id, driver_id,
	pickup_lat, pickup_lng, pickup_address, pickup_city, pickup_country,
	dropoff_lat, dropoff_lng, dropoff_address, dropoff_city, dropoff_country,
	distance_km, passengers, base_price, final_price, currency,
	allow_driver_offers, client_offer_price, payment_method, status,
	driver_lat, driver_lng, driver_speed_kmh, driver_heading, driver_updated_at,
	created_at, accepted_at, started_at, completed_at, cancelled_at`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (
			id, client_id,
			pickup_lat, pickup_lng, pickup_address, pickup_city, pickup_country,
			dropoff_lat, dropoff_lng, dropoff_address, dropoff_city, dropoff_country,
			distance_km, passengers, base_price, final_price, currency,
			allow_driver_offers, client_offer_price, payment_method, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		r.ID, r.ClientID,
		r.Pickup.Point.Lat, r.Pickup.Point.Lng, r.Pickup.Address, r.Pickup.City, r.Pickup.CountryCode,
		r.Dropoff.Point.Lat, r.Dropoff.Point.Lng, r.Dropoff.Address, r.Dropoff.City, r.Dropoff.CountryCode,
		r.DistanceKm, r.Passengers, r.BasePrice, r.FinalPrice, r.Currency,
		r.AllowDriverOffers, r.ClientOfferPrice, r.PaymentMethod, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresStore) ListUnclaimedByCity(ctx context.Context, city string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status = 'pending' AND driver_id IS NULL
		  AND pickup_city ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC`, city)
	if err != nil {
		return nil, fmt.Errorf("list unclaimed by city: %w", err)
	}
	defer rows.Close()
	return collectRides(rows)
}

func (p *PostgresStore) ListUnclaimed(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status = 'pending' AND driver_id IS NULL
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list unclaimed: %w", err)
	}
	defer rows.Close()
	return collectRides(rows)
}

func (p *PostgresStore) AcceptRide(ctx context.Context, rideID, driverID string, agreedPrice *float64) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides
		SET driver_id = $1,
		    status = 'driver_assigned',
		    accepted_at = $2,
		    final_price = COALESCE($3, final_price)
		WHERE id = $4 AND status = 'pending' AND driver_id IS NULL
		RETURNING `+rideColumns, driverID, time.Now(), agreedPrice, rideID)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		// Row exists but the predicate failed, or no such ride at all.
		if _, getErr := p.GetRide(ctx, rideID); getErr == nil {
			return nil, ErrRideTaken
		}
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) TransitionRide(ctx context.Context, rideID, driverID string, from []models.RideStatus, to models.RideStatus) (*models.Ride, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides
		SET status = $1,
		    started_at = CASE WHEN $1 = 'in_progress' THEN $2 ELSE started_at END,
		    completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END
		WHERE id = $3 AND driver_id = $4 AND status = ANY($5)
		RETURNING `+rideColumns, string(to), time.Now(), rideID, driverID, pq.Array(states))
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.GetRide(ctx, rideID); getErr == nil {
			return nil, ErrConflict
		}
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) CancelRide(ctx context.Context, rideID, clientID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides
		SET status = 'cancelled', cancelled_at = $1
		WHERE id = $2 AND client_id = $3
		  AND status IN ('pending','driver_assigned','driver_arrived','in_progress')
		RETURNING `+rideColumns, time.Now(), rideID, clientID)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.GetRide(ctx, rideID); getErr == nil {
			return nil, ErrConflict
		}
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateTelemetry(ctx context.Context, push models.PositionPush) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET driver_lat = $1, driver_lng = $2, driver_speed_kmh = $3,
		    driver_heading = $4, driver_updated_at = $5
		WHERE id = $6 AND driver_id = $7
		  AND status IN ('driver_assigned','driver_arrived','in_progress')`,
		push.Lat, push.Lng, push.SpeedKmh, push.Heading, push.At, push.RideID, push.DriverID)
	if err != nil {
		return fmt.Errorf("update telemetry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) UpsertOffer(ctx context.Context, o *models.RideOffer) error {
	now := time.Now()
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO ride_offers (ride_id, driver_id, price_offer, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $4)
		ON CONFLICT (ride_id, driver_id) DO UPDATE
		SET price_offer = EXCLUDED.price_offer,
		    client_counter_price = NULL,
		    status = 'pending',
		    updated_at = EXCLUDED.updated_at
		RETURNING ride_id, driver_id, price_offer, client_counter_price, status, created_at, updated_at`,
		o.RideID, o.DriverID, o.PriceOffer, now)
	return scanOfferInto(row, o)
}

func (p *PostgresStore) GetOffer(ctx context.Context, rideID, driverID string) (*models.RideOffer, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT ride_id, driver_id, price_offer, client_counter_price, status, created_at, updated_at
		FROM ride_offers WHERE ride_id = $1 AND driver_id = $2`, rideID, driverID)
	var o models.RideOffer
	if err := scanOfferInto(row, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *PostgresStore) ListOffers(ctx context.Context, rideID string) ([]models.RideOffer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ride_id, driver_id, price_offer, client_counter_price, status, created_at, updated_at
		FROM ride_offers WHERE ride_id = $1 ORDER BY created_at`, rideID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()
	var out []models.RideOffer
	for rows.Next() {
		var o models.RideOffer
		var counter sql.NullFloat64
		if err := rows.Scan(&o.RideID, &o.DriverID, &o.PriceOffer, &counter, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		if counter.Valid {
			o.ClientCounterPrice = &counter.Float64
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CounterOffer(ctx context.Context, rideID, driverID string, price float64) (*models.RideOffer, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE ride_offers
		SET client_counter_price = $1, status = 'countered', updated_at = $2
		WHERE ride_id = $3 AND driver_id = $4 AND status IN ('pending','countered')
		RETURNING ride_id, driver_id, price_offer, client_counter_price, status, created_at, updated_at`,
		price, time.Now(), rideID, driverID)
	var o models.RideOffer
	err := scanOfferInto(row, &o)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.GetOffer(ctx, rideID, driverID); getErr == nil {
			return nil, ErrConflict
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *PostgresStore) MarkOfferAccepted(ctx context.Context, rideID, driverID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE ride_offers
		SET status = CASE WHEN driver_id = $1 THEN 'accepted' ELSE 'rejected' END,
		    updated_at = $2
		WHERE ride_id = $3`, driverID, time.Now(), rideID)
	if err != nil {
		return fmt.Errorf("mark offer accepted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var driverID, pickupCountry, dropoffCountry sql.NullString
	var clientOffer, dLat, dLng, dSpeed, dHeading sql.NullFloat64
	var dUpdated, acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.ClientID, &driverID,
		&r.Pickup.Point.Lat, &r.Pickup.Point.Lng, &r.Pickup.Address, &r.Pickup.City, &pickupCountry,
		&r.Dropoff.Point.Lat, &r.Dropoff.Point.Lng, &r.Dropoff.Address, &r.Dropoff.City, &dropoffCountry,
		&r.DistanceKm, &r.Passengers, &r.BasePrice, &r.FinalPrice, &r.Currency,
		&r.AllowDriverOffers, &clientOffer, &r.PaymentMethod, &r.Status,
		&dLat, &dLng, &dSpeed, &dHeading, &dUpdated,
		&r.CreatedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ride: %w", err)
	}

	if driverID.Valid {
		r.DriverID = &driverID.String
	}
	r.Pickup.CountryCode = pickupCountry.String
	r.Dropoff.CountryCode = dropoffCountry.String
	if clientOffer.Valid {
		r.ClientOfferPrice = &clientOffer.Float64
	}
	if dLat.Valid {
		r.DriverLat = &dLat.Float64
	}
	if dLng.Valid {
		r.DriverLng = &dLng.Float64
	}
	if dSpeed.Valid {
		r.DriverSpeedKmh = &dSpeed.Float64
	}
	if dHeading.Valid {
		r.DriverHeading = &dHeading.Float64
	}
	r.DriverUpdatedAt = timePtr(dUpdated)
	r.AcceptedAt = timePtr(acceptedAt)
	r.StartedAt = timePtr(startedAt)
	r.CompletedAt = timePtr(completedAt)
	r.CancelledAt = timePtr(cancelledAt)
	return &r, nil
}

func collectRides(rows *sql.Rows) ([]models.Ride, error) {
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanOfferInto(row rowScanner, o *models.RideOffer) error {
	var counter sql.NullFloat64
	err := row.Scan(&o.RideID, &o.DriverID, &o.PriceOffer, &counter, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("scan offer: %w", err)
	}
	if counter.Valid {
		o.ClientCounterPrice = &counter.Float64
	} else {
		o.ClientCounterPrice = nil
	}
	return nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
