// Package remote implements the remote persistence collaborators: the
// per-player save row and the withdrawal record list, backed by PostgreSQL
// or held in memory.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/musclefoot/musclefoot/internal/rank"
	"github.com/musclefoot/musclefoot/internal/save"
	"github.com/musclefoot/musclefoot/internal/withdrawal"
)

const schema = `
CREATE TABLE IF NOT EXISTS players (
	telegram_id        BIGINT PRIMARY KEY,
	username           TEXT NOT NULL DEFAULT '',
	muscle_points      DOUBLE PRECISION NOT NULL DEFAULT 0,
	level              INTEGER NOT NULL DEFAULT 0,
	current_energy     DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_tap_timestamp TIMESTAMPTZ NOT NULL,
	wallet_address     TEXT NOT NULL DEFAULT '',
	god_pack_expiry    TIMESTAMPTZ NULL,
	high_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS withdrawals (
	id               TEXT PRIMARY KEY,
	telegram_id      BIGINT NOT NULL,
	username         TEXT NOT NULL DEFAULT '',
	wallet_address   TEXT NOT NULL,
	requested_amount DOUBLE PRECISION NOT NULL,
	fee_percent      DOUBLE PRECISION NOT NULL,
	fee_amount       DOUBLE PRECISION NOT NULL,
	net_amount       DOUBLE PRECISION NOT NULL,
	rank_at_request  INTEGER NOT NULL,
	delay_hours      INTEGER NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	available_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS withdrawals_telegram_id_created_at
	ON withdrawals (telegram_id, created_at DESC);
`

// Postgres stores saves and withdrawal records in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an already-open database. The schema is not touched.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Save upserts the player's row. The high score only ever grows.
func (p *Postgres) Save(ctx context.Context, snap save.Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO players (
			telegram_id, username, muscle_points, level, current_energy,
			last_tap_timestamp, wallet_address, god_pack_expiry, high_score, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = EXCLUDED.username,
			muscle_points = EXCLUDED.muscle_points,
			level = EXCLUDED.level,
			current_energy = EXCLUDED.current_energy,
			last_tap_timestamp = EXCLUDED.last_tap_timestamp,
			wallet_address = EXCLUDED.wallet_address,
			god_pack_expiry = EXCLUDED.god_pack_expiry,
			high_score = GREATEST(players.high_score, EXCLUDED.high_score),
			updated_at = EXCLUDED.updated_at
	`, snap.TelegramID, snap.Username, snap.MusclePoints, int(snap.Level), snap.CurrentEnergy,
		snap.LastTapTimestamp, snap.WalletAddress, nullTime(snap.GodPackExpiry), snap.HighScore, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting player %d: %w", snap.TelegramID, err)
	}
	return nil
}

// Load returns the player's row or save.ErrNotFound.
func (p *Postgres) Load(ctx context.Context, telegramID int64) (*save.Snapshot, error) {
	var (
		snap   save.Snapshot
		level  int
		expiry sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT telegram_id, username, muscle_points, level, current_energy,
			last_tap_timestamp, wallet_address, god_pack_expiry, high_score, updated_at
		FROM players
		WHERE telegram_id = $1
	`, telegramID).Scan(
		&snap.TelegramID, &snap.Username, &snap.MusclePoints, &level, &snap.CurrentEnergy,
		&snap.LastTapTimestamp, &snap.WalletAddress, &expiry, &snap.HighScore, &snap.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, save.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading player %d: %w", telegramID, err)
	}
	snap.Level = rank.Level(level)
	if expiry.Valid {
		t := expiry.Time.UTC()
		snap.GodPackExpiry = &t
	}
	return &snap, nil
}

// Insert appends a withdrawal record.
func (p *Postgres) Insert(ctx context.Context, req withdrawal.Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawals (
			id, telegram_id, username, wallet_address, requested_amount, fee_percent,
			fee_amount, net_amount, rank_at_request, delay_hours, status, created_at, available_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, req.ID, req.Identity.ID, req.Identity.Name, req.WalletAddress, req.RequestedAmount, req.FeePercent,
		req.FeeAmount, req.NetAmount, int(req.RankAtRequest), req.DelayHours, string(req.Status),
		req.CreatedAt, req.AvailableAt)
	if err != nil {
		return fmt.Errorf("inserting withdrawal %s: %w", req.ID, err)
	}
	return nil
}

// ListByIdentity returns the player's withdrawals, newest first.
func (p *Postgres) ListByIdentity(ctx context.Context, telegramID int64) ([]withdrawal.Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, telegram_id, username, wallet_address, requested_amount, fee_percent,
			fee_amount, net_amount, rank_at_request, delay_hours, status, created_at, available_at
		FROM withdrawals
		WHERE telegram_id = $1
		ORDER BY created_at DESC
	`, telegramID)
	if err != nil {
		return nil, fmt.Errorf("listing withdrawals for %d: %w", telegramID, err)
	}
	defer rows.Close()

	var out []withdrawal.Request
	for rows.Next() {
		var (
			req    withdrawal.Request
			level  int
			status string
		)
		if err := rows.Scan(
			&req.ID, &req.Identity.ID, &req.Identity.Name, &req.WalletAddress, &req.RequestedAmount, &req.FeePercent,
			&req.FeeAmount, &req.NetAmount, &level, &req.DelayHours, &status, &req.CreatedAt, &req.AvailableAt,
		); err != nil {
			return nil, fmt.Errorf("scanning withdrawal: %w", err)
		}
		req.RankAtRequest = rank.Level(level)
		req.Status = withdrawal.Status(status)
		out = append(out, req)
	}
	return out, rows.Err()
}

// Close closes the database.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
