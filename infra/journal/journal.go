// Package journal stores an audit trail of command attempts in Postgres.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/cariot/core/command"
)

// Config holds the Postgres connection settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// Validate checks mandatory fields when the journal is enabled.
func (c Config) Validate() error {
	if c.Enabled && c.URL == "" {
		return errors.New("journal: url is required")
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS command_journal (
	id         BIGSERIAL PRIMARY KEY,
	time       TIMESTAMPTZ NOT NULL,
	topic      TEXT NOT NULL,
	car_id     TEXT NOT NULL,
	action     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	success    BOOLEAN NOT NULL,
	code       TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS command_journal_car_time ON command_journal (car_id, time DESC);
`

// PGJournal writes command entries to the command_journal table.
type PGJournal struct {
	pool *pgxpool.Pool
}

var _ command.Journal = (*PGJournal)(nil)

// New connects to Postgres, verifies the connection and ensures the schema.
func New(ctx context.Context, cfg Config) (*PGJournal, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("journal config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal database unavailable: %w", err)
	}
	j := &PGJournal{pool: pool}
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// EnsureSchema creates the journal table if it does not exist.
func (j *PGJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Record inserts one command attempt.
func (j *PGJournal) Record(ctx context.Context, e command.Entry) error {
	const q = `INSERT INTO command_journal (time, topic, car_id, action, payload, success, code, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := j.pool.Exec(ctx, q, e.Time, e.Topic, e.CarID, e.Action, e.Payload, e.Success, e.Code, e.Error); err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns the latest entries for carID, newest first. An empty carID
// returns entries of every car.
func (j *PGJournal) Recent(ctx context.Context, carID string, limit int) ([]command.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT time, topic, car_id, action, payload, success, code, error
		FROM command_journal
		WHERE $1 = '' OR car_id = $1
		ORDER BY time DESC, id DESC
		LIMIT $2`
	rows, err := j.pool.Query(ctx, q, carID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []command.Entry
	for rows.Next() {
		var e command.Entry
		var at time.Time
		if err := rows.Scan(&at, &e.Topic, &e.CarID, &e.Action, &e.Payload, &e.Success, &e.Code, &e.Error); err != nil {
			return nil, err
		}
		e.Time = at
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (j *PGJournal) Close() { j.pool.Close() }
