package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS router_runs (
	id              BIGSERIAL PRIMARY KEY,
	request_id      TEXT,
	correlation_id  TEXT,
	provider        TEXT NOT NULL,
	model           TEXT NOT NULL,
	requested_model TEXT,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	tokens_used     INTEGER NOT NULL DEFAULT 0,
	latency_ms      BIGINT NOT NULL DEFAULT 0,
	success         BOOLEAN NOT NULL,
	savings_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL
)`

// PostgresSink stores run records in the router_runs table. Prompt and
// completion text are not persisted.
type PostgresSink struct {
	db *sql.DB
}

func OpenPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresSink(db), nil
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create router_runs: %w", err)
	}
	return nil
}

func (s *PostgresSink) Send(ctx context.Context, rec domain.RunRecord) error {
	query := `
		INSERT INTO router_runs (request_id, correlation_id, provider, model, requested_model,
		                         input_tokens, output_tokens, tokens_used, latency_ms, success,
		                         savings_usd, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.ExecContext(ctx, query,
		nullString(rec.RequestID),
		nullString(rec.CorrelationID),
		rec.Provider,
		rec.Model,
		nullString(rec.RequestedModel),
		rec.InputTokens,
		rec.OutputTokens,
		rec.TokensUsed,
		rec.LatencyMs,
		rec.Success,
		rec.Savings,
		nullString(rec.Error),
		rec.Timestamp,
	)
	if err != nil {
		return classifyPQ(fmt.Errorf("insert run record: %w", err))
	}
	return nil
}

// SavingsSince sums estimated savings of successful runs, grouped by the model
// that was originally requested.
func (s *PostgresSink) SavingsSince(ctx context.Context, since time.Time) (map[string]float64, error) {
	query := `
		SELECT COALESCE(requested_model, model), COALESCE(SUM(savings_usd), 0)
		FROM router_runs
		WHERE success AND created_at >= $1
		GROUP BY 1
	`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query savings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var model string
		var savings float64
		if err := rows.Scan(&model, &savings); err != nil {
			return nil, fmt.Errorf("scan savings: %w", err)
		}
		out[model] = savings
	}
	return out, rows.Err()
}

func (s *PostgresSink) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// classifyPQ maps authorization failures (SQLSTATE class 28) to ErrUnauthorized.
func classifyPQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "28" {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
