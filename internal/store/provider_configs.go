package store

import (
	"context"
	"fmt"
)

// ProviderConfig is one persisted provider row. Enabled/Priority drive the
// source resolver; FailureThreshold/CooldownSeconds drive that provider's
// circuit breaker.
type ProviderConfig struct {
	ProviderName     string
	Enabled          bool
	Priority         int
	FailureThreshold int
	CooldownSeconds  int
}

// ListProviderConfigs returns every provider row ordered by priority, then name.
func (s *Store) ListProviderConfigs(ctx context.Context) ([]ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_name, enabled, priority, failure_threshold, cooldown_seconds
		 FROM provider_configs ORDER BY priority ASC, provider_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing provider configs: %w", err)
	}
	defer rows.Close()

	var out []ProviderConfig
	for rows.Next() {
		var pc ProviderConfig
		if err := rows.Scan(&pc.ProviderName, &pc.Enabled, &pc.Priority, &pc.FailureThreshold, &pc.CooldownSeconds); err != nil {
			return nil, fmt.Errorf("scanning provider config: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// UpsertProviderConfig inserts or replaces the row for pc.ProviderName.
func (s *Store) UpsertProviderConfig(ctx context.Context, pc ProviderConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_configs (provider_name, enabled, priority, failure_threshold, cooldown_seconds)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider_name) DO UPDATE SET
			enabled = excluded.enabled,
			priority = excluded.priority,
			failure_threshold = excluded.failure_threshold,
			cooldown_seconds = excluded.cooldown_seconds`,
		pc.ProviderName, pc.Enabled, pc.Priority, pc.FailureThreshold, pc.CooldownSeconds)
	if err != nil {
		return fmt.Errorf("upserting provider config %q: %w", pc.ProviderName, err)
	}
	return nil
}

// DeleteProviderConfig removes the row for name. Deleting an absent row is
// not an error.
func (s *Store) DeleteProviderConfig(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_configs WHERE provider_name = ?`, name); err != nil {
		return fmt.Errorf("deleting provider config %q: %w", name, err)
	}
	return nil
}
