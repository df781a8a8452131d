// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/funniceguy/trendsentry/internal/verify"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CardStoreConfig controls the Postgres connection pool used for card rows.
type CardStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CardStore persists verification cards as JSONB rows. The state and
// inserted_at columns are duplicated out of the document so eviction
// and stats stay in SQL.
type CardStore struct {
	pool  dbPool
	table string
}

// NewCardStore creates a Postgres-backed CardStore using the provided config.
func NewCardStore(ctx context.Context, cfg CardStoreConfig) (*CardStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "verification_cards"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CardStore{pool: pool, table: table}, nil
}

// NewCardStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCardStoreWithPool(pool dbPool, table string) (*CardStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "verification_cards"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CardStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *CardStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts or replaces the row keyed by session id. inserted_at
// is only written on first insert so the listing order is stable.
func (s *CardStore) Upsert(ctx context.Context, card verify.Card) error {
	if card.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (session_id, state, inserted_at, card)
VALUES ($1, $2, now(), $3)
ON CONFLICT (session_id) DO UPDATE SET
	state = EXCLUDED.state,
	card = EXCLUDED.card`, s.table)
	if _, err := s.pool.Exec(ctx, query, card.SessionID, string(card.State), doc); err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

// Get fetches one card by session id.
func (s *CardStore) Get(ctx context.Context, sessionID string) (verify.Card, error) {
	query := fmt.Sprintf(`SELECT card FROM %s WHERE session_id = $1`, s.table)
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, sessionID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return verify.Card{}, verify.ErrCardNotFound
		}
		return verify.Card{}, fmt.Errorf("get card: %w", err)
	}
	var card verify.Card
	if err := json.Unmarshal(doc, &card); err != nil {
		return verify.Card{}, fmt.Errorf("unmarshal card: %w", err)
	}
	return card, nil
}

// List returns all cards newest-inserted-first.
func (s *CardStore) List(ctx context.Context) ([]verify.Card, error) {
	query := fmt.Sprintf(`SELECT card FROM %s ORDER BY inserted_at DESC`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var out []verify.Card
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		var card verify.Card
		if err := json.Unmarshal(doc, &card); err != nil {
			return nil, fmt.Errorf("unmarshal card: %w", err)
		}
		out = append(out, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return out, nil
}

// Remove deletes a card. Removing an unknown id is a no-op.
func (s *CardStore) Remove(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("remove card: %w", err)
	}
	return nil
}

// TrimToMax evicts the oldest terminal rows until at most max remain.
// Rows in active states are never deleted.
func (s *CardStore) TrimToMax(ctx context.Context, max int) error {
	if max < 0 {
		max = 0
	}
	query := fmt.Sprintf(`
DELETE FROM %s WHERE session_id IN (
	SELECT session_id FROM %s
	WHERE state = ANY($2)
	ORDER BY inserted_at ASC
	LIMIT GREATEST((SELECT COUNT(*) FROM %s) - $1, 0)
)`, s.table, s.table, s.table)
	if _, err := s.pool.Exec(ctx, query, max, terminalStates()); err != nil {
		return fmt.Errorf("trim cards: %w", err)
	}
	return nil
}

// Stats summarizes the table against the configured session cap.
func (s *CardStore) Stats(ctx context.Context, maxSessions int) (verify.Stats, error) {
	query := fmt.Sprintf(`SELECT state, COUNT(*) FROM %s GROUP BY state`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return verify.Stats{}, fmt.Errorf("card stats: %w", err)
	}
	defer rows.Close()

	stats := verify.Stats{MaxSessions: maxSessions}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return verify.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.TotalCards += count
		switch {
		case verify.State(state).IsActive():
			stats.Active += count
		case verify.State(state) == verify.StateCompleted:
			stats.Completed += count
		default:
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return verify.Stats{}, fmt.Errorf("card stats: %w", err)
	}
	stats.Available = maxSessions - stats.Active
	if stats.Available < 0 {
		stats.Available = 0
	}
	return stats, nil
}

func terminalStates() []string {
	return []string{
		string(verify.StateCompleted),
		string(verify.StateFailed),
		string(verify.StateCreateFailed),
	}
}
