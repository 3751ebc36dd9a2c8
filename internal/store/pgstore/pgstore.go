package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/cart-engine/internal/store"
)

// ErrNotConfigured indicates the connection pool is missing.
var ErrNotConfigured = errors.New("pgstore: pool not configured")

// Store is the durable keyed-row backend. Each (identity, instance) pair maps
// to one row in cart_records with items, conditions and metadata held as
// JSONB blobs. With locking enabled, WithLock serializes concurrent
// read-modify-write sequences for the same row via a transaction-scoped
// advisory lock; with locking disabled the last writer wins.
type Store struct {
	pool       *pgxpool.Pool
	locking    bool
	maxPayload int64
}

// Config holds store construction options.
type Config struct {
	Pool *pgxpool.Pool
	// Locking enables the pessimistic row-lock mode.
	Locking bool
	// MaxPayloadBytes rejects writes whose encoded payload exceeds the limit.
	MaxPayloadBytes int64
}

// New constructs the store.
func New(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, ErrNotConfigured
	}
	return &Store{pool: cfg.Pool, locking: cfg.Locking, maxPayload: cfg.MaxPayloadBytes}, nil
}

// SupportsLocking reports whether the pessimistic mode is enabled.
func (s *Store) SupportsLocking() bool { return s.locking }

// WithLock runs fn while holding an advisory lock scoped to the record key.
// The lock is bound to a transaction and released on commit or rollback, so a
// failing fn never leaves the key locked.
func (s *Store) WithLock(ctx context.Context, identity, instance string, fn func(context.Context) error) error {
	if !s.locking {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin lock tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, store.Key(identity, instance)); err != nil {
		return fmt.Errorf("pgstore: acquire lock: %w", err)
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetItems returns the stored item map, empty when the row is absent.
func (s *Store) GetItems(ctx context.Context, identity, instance string) (map[string]store.ItemRecord, error) {
	out := map[string]store.ItemRecord{}
	if err := s.getColumn(ctx, identity, instance, "items", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutItems upserts the item column.
func (s *Store) PutItems(ctx context.Context, identity, instance string, items map[string]store.ItemRecord) error {
	if err := store.EnforceLimit(s.maxPayload, items); err != nil {
		return err
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("pgstore: encode items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO cart_records (identity, instance, items)
VALUES ($1, $2, $3)
ON CONFLICT (identity, instance) DO UPDATE SET items = EXCLUDED.items, updated_at = now()`, identity, instance, encoded)
	if err != nil {
		return fmt.Errorf("pgstore: put items: %w", err)
	}
	return nil
}

// GetConditions returns the stored condition map, empty when absent.
func (s *Store) GetConditions(ctx context.Context, identity, instance string) (map[string]store.ConditionRecord, error) {
	out := map[string]store.ConditionRecord{}
	if err := s.getColumn(ctx, identity, instance, "conditions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutConditions upserts the condition column.
func (s *Store) PutConditions(ctx context.Context, identity, instance string, conditions map[string]store.ConditionRecord) error {
	if err := store.EnforceLimit(s.maxPayload, conditions); err != nil {
		return err
	}
	encoded, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("pgstore: encode conditions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO cart_records (identity, instance, conditions)
VALUES ($1, $2, $3)
ON CONFLICT (identity, instance) DO UPDATE SET conditions = EXCLUDED.conditions, updated_at = now()`, identity, instance, encoded)
	if err != nil {
		return fmt.Errorf("pgstore: put conditions: %w", err)
	}
	return nil
}

// PutBoth upserts both columns in one statement.
func (s *Store) PutBoth(ctx context.Context, identity, instance string, items map[string]store.ItemRecord, conditions map[string]store.ConditionRecord) error {
	if err := store.EnforceLimit(s.maxPayload, map[string]any{"items": items, "conditions": conditions}); err != nil {
		return err
	}
	encodedItems, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("pgstore: encode items: %w", err)
	}
	encodedConditions, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("pgstore: encode conditions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO cart_records (identity, instance, items, conditions)
VALUES ($1, $2, $3, $4)
ON CONFLICT (identity, instance) DO UPDATE SET items = EXCLUDED.items, conditions = EXCLUDED.conditions, updated_at = now()`,
		identity, instance, encodedItems, encodedConditions)
	if err != nil {
		return fmt.Errorf("pgstore: put both: %w", err)
	}
	return nil
}

// GetMetadata returns nil when the row or key is absent.
func (s *Store) GetMetadata(ctx context.Context, identity, instance, key string) (json.RawMessage, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT metadata -> $3 FROM cart_records WHERE identity = $1 AND instance = $2`,
		identity, instance, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get metadata %q: %w", key, err)
	}
	if raw == nil {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// PutMetadata merges the key into the metadata column.
func (s *Store) PutMetadata(ctx context.Context, identity, instance, key string, value json.RawMessage) error {
	if err := store.EnforceLimit(s.maxPayload, value); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO cart_records (identity, instance, metadata)
VALUES ($1, $2, jsonb_build_object($3::text, $4::jsonb))
ON CONFLICT (identity, instance) DO UPDATE SET metadata = cart_records.metadata || EXCLUDED.metadata, updated_at = now()`,
		identity, instance, key, []byte(value))
	if err != nil {
		return fmt.Errorf("pgstore: put metadata %q: %w", key, err)
	}
	return nil
}

// Forget deletes the row.
func (s *Store) Forget(ctx context.Context, identity, instance string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cart_records WHERE identity = $1 AND instance = $2`, identity, instance); err != nil {
		return fmt.Errorf("pgstore: forget: %w", err)
	}
	return nil
}

// Instances lists every known instance name for the identity.
func (s *Store) Instances(ctx context.Context, identity string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT instance FROM cart_records WHERE identity = $1 ORDER BY instance`, identity)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list instances: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) getColumn(ctx context.Context, identity, instance, column string, out any) error {
	// column is one of the fixed identifiers above, never caller input.
	query := fmt.Sprintf(`SELECT %s FROM cart_records WHERE identity = $1 AND instance = $2`, column)
	var raw []byte
	err := s.pool.QueryRow(ctx, query, identity, instance).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pgstore: get %s: %w", column, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("pgstore: decode %s: %w", column, err)
	}
	return nil
}
