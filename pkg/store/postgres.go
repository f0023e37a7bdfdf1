package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderline-ai/orderline/pkg/menu"
	"github.com/orderline-ai/orderline/pkg/order"
)

// ErrRestaurantNotFound means no restaurant is registered for the dialed
// number.
var ErrRestaurantNotFound = errors.New("restaurant not found")

// Restaurant is the tenant record: which menu and voice settings a
// dialed number maps to.
type Restaurant struct {
	ID    string
	Name  string
	Phone string
	Menu  []menu.Item
	Voice menu.VoiceConfig
}

// Repository is the Postgres-backed record store. It implements
// order.RecordStore and resolves restaurants at call start.
type Repository struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS restaurants (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    phone         TEXT NOT NULL UNIQUE,
    menu          JSONB NOT NULL DEFAULT '[]',
    voice_config  JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS orders (
    id             TEXT PRIMARY KEY,
    restaurant_id  TEXT NOT NULL,
    customer_name  TEXT NOT NULL,
    customer_phone TEXT NOT NULL,
    items          JSONB NOT NULL,
    total          NUMERIC(10,2) NOT NULL,
    pickup_time    TEXT NOT NULL,
    status         TEXT NOT NULL,
    transcript     JSONB NOT NULL DEFAULT '[]',
    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS calls (
    call_id        TEXT PRIMARY KEY,
    restaurant_id  TEXT NOT NULL,
    transcript     JSONB NOT NULL DEFAULT '[]',
    status         TEXT NOT NULL,
    recording_url  TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables if they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetRestaurantByPhone resolves the dialed number to a restaurant, its
// menu and voice settings.
func (r *Repository) GetRestaurantByPhone(ctx context.Context, phone string) (*Restaurant, error) {
	query := `
        SELECT id, name, phone, menu, voice_config
        FROM restaurants
        WHERE phone = $1
    `

	var (
		rest      Restaurant
		menuJSON  []byte
		voiceJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, phone).Scan(
		&rest.ID, &rest.Name, &rest.Phone, &menuJSON, &voiceJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRestaurantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query restaurant %s: %w", phone, err)
	}

	if err := json.Unmarshal(menuJSON, &rest.Menu); err != nil {
		return nil, fmt.Errorf("decode menu for restaurant %s: %w", rest.ID, err)
	}
	if err := json.Unmarshal(voiceJSON, &rest.Voice); err != nil {
		return nil, fmt.Errorf("decode voice config for restaurant %s: %w", rest.ID, err)
	}
	return &rest, nil
}

// InsertOrder writes one completed order.
func (r *Repository) InsertOrder(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	transcriptJSON, err := json.Marshal(o.Transcript)
	if err != nil {
		return fmt.Errorf("encode order transcript: %w", err)
	}

	query := `
        INSERT INTO orders (
            id, restaurant_id, customer_name, customer_phone,
            items, total, pickup_time, status, transcript, confidence
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
        )
    `
	_, err = r.pool.Exec(ctx, query,
		o.ID,
		o.RestaurantID,
		o.CustomerName,
		o.CustomerPhone,
		itemsJSON,
		o.Total,
		o.PickupTime,
		o.Status,
		transcriptJSON,
		o.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// UpsertCall writes the call record, replacing any previous row for the
// same call. Called after every turn, so the stored transcript and
// status always reflect the latest state.
func (r *Repository) UpsertCall(ctx context.Context, c *order.CallRecord) error {
	transcriptJSON, err := json.Marshal(c.Transcript)
	if err != nil {
		return fmt.Errorf("encode call transcript: %w", err)
	}

	query := `
        INSERT INTO calls (call_id, restaurant_id, transcript, status, recording_url, updated_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (call_id) DO UPDATE SET
            transcript    = EXCLUDED.transcript,
            status        = EXCLUDED.status,
            recording_url = EXCLUDED.recording_url,
            updated_at    = now()
    `
	_, err = r.pool.Exec(ctx, query,
		c.CallID,
		c.RestaurantID,
		transcriptJSON,
		c.Status,
		c.RecordingURL,
	)
	if err != nil {
		return fmt.Errorf("upsert call %s: %w", c.CallID, err)
	}
	return nil
}
