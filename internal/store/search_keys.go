package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SearchKey is one persisted search-engine credential row.
type SearchKey struct {
	ID            int64
	Engine        string
	APIKey        string
	Enabled       bool
	Weight        int
	DailyLimit    int // 0 = unlimited
	UsedToday     int
	LastResetDate string
}

// ListSearchKeys returns every key row ordered by engine, then id.
func (s *Store) ListSearchKeys(ctx context.Context) ([]SearchKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, engine, api_key, enabled, weight, daily_limit, used_today, last_reset_date
		 FROM search_api_keys ORDER BY engine ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing search keys: %w", err)
	}
	defer rows.Close()

	var out []SearchKey
	for rows.Next() {
		var (
			k     SearchKey
			limit sql.NullInt64
		)
		if err := rows.Scan(&k.ID, &k.Engine, &k.APIKey, &k.Enabled, &k.Weight, &limit, &k.UsedToday, &k.LastResetDate); err != nil {
			return nil, fmt.Errorf("scanning search key: %w", err)
		}
		if limit.Valid {
			k.DailyLimit = int(limit.Int64)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpsertSearchKey inserts a new key row or updates the existing
// (engine, api_key) row, returning its id.
func (s *Store) UpsertSearchKey(ctx context.Context, k SearchKey) (int64, error) {
	limit := sql.NullInt64{Int64: int64(k.DailyLimit), Valid: k.DailyLimit > 0}

	res, err := s.db.ExecContext(ctx,
		`UPDATE search_api_keys SET enabled = ?, weight = ?, daily_limit = ?
		 WHERE engine = ? AND api_key = ?`,
		k.Enabled, k.Weight, limit, k.Engine, k.APIKey)
	if err != nil {
		return 0, fmt.Errorf("updating search key for %q: %w", k.Engine, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM search_api_keys WHERE engine = ? AND api_key = ?`,
			k.Engine, k.APIKey).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("reading back search key id for %q: %w", k.Engine, err)
		}
		return id, nil
	}

	res, err = s.db.ExecContext(ctx,
		`INSERT INTO search_api_keys (engine, api_key, enabled, weight, daily_limit, used_today, last_reset_date)
		 VALUES (?, ?, ?, ?, ?, 0, '')`,
		k.Engine, k.APIKey, k.Enabled, k.Weight, limit)
	if err != nil {
		return 0, fmt.Errorf("inserting search key for %q: %w", k.Engine, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new search key id: %w", err)
	}
	return id, nil
}

// DeleteSearchKey removes one key row by id.
func (s *Store) DeleteSearchKey(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_api_keys WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting search key %d: %w", id, err)
	}
	return nil
}

// UpdateKeyUsage persists the daily usage counter and reset date for one key.
// The key pool calls this off the hot path; ids <= 0 (environment-sourced
// keys) never reach the database.
func (s *Store) UpdateKeyUsage(ctx context.Context, id int64, usedToday int, lastResetDate string) error {
	if id <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE search_api_keys SET used_today = ?, last_reset_date = ? WHERE id = ?`,
		usedToday, lastResetDate, id)
	if err != nil {
		return fmt.Errorf("updating usage for key %d: %w", id, err)
	}
	return nil
}
