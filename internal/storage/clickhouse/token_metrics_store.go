package clickhouse

import (
	"context"
	"fmt"
	"time"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/storage"
)

// TokenMetricsStore implements storage.TokenMetricsStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by (chain_id, token_address, sampled_at),
// so re-inserting a sample replaces it on merge.
type TokenMetricsStore struct {
	conn *Conn
}

// NewTokenMetricsStore creates a new TokenMetricsStore.
func NewTokenMetricsStore(conn *Conn) *TokenMetricsStore {
	return &TokenMetricsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TokenMetricsStore = (*TokenMetricsStore)(nil)

// InsertBulk appends samples in one batch.
func (s *TokenMetricsStore) InsertBulk(ctx context.Context, samples []*domain.TokenMetrics) error {
	if len(samples) == 0 {
		return nil
	}
	for _, m := range samples {
		if m == nil || m.Subject.Address == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_metrics (
			chain_id, token_address, sampled_at, price_usd, liquidity_usd, volume_24h, market_cap, holder_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, m := range samples {
		err = batch.Append(
			m.Subject.ChainID, m.Subject.Address, m.SampledAt.UTC(),
			m.PriceUSD, m.LiquidityUSD, m.Volume24h, m.MarketCap, int64(m.HolderCount),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySubject returns samples within [start, end], ordered by time ASC.
func (s *TokenMetricsStore) GetBySubject(ctx context.Context, subject domain.Subject, start, end time.Time) ([]*domain.TokenMetrics, error) {
	query := `
		SELECT chain_id, token_address, sampled_at, price_usd, liquidity_usd, volume_24h, market_cap, holder_count
		FROM token_metrics FINAL
		WHERE chain_id = ? AND token_address = ? AND sampled_at >= ? AND sampled_at <= ?
		ORDER BY sampled_at ASC
	`

	rows, err := s.conn.Query(ctx, query, subject.ChainID, subject.Address, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query token metrics: %w", err)
	}
	defer rows.Close()

	return scanTokenMetrics(rows)
}

// DeleteBefore removes samples older than the cutoff.
func (s *TokenMetricsStore) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	if err := s.conn.Exec(ctx, `ALTER TABLE token_metrics DELETE WHERE sampled_at < ?`, cutoff.UTC()); err != nil {
		return fmt.Errorf("delete token metrics: %w", err)
	}
	return nil
}

// scanTokenMetrics scans multiple rows.
func scanTokenMetrics(rows chRows) ([]*domain.TokenMetrics, error) {
	var samples []*domain.TokenMetrics

	for rows.Next() {
		var m domain.TokenMetrics
		var holders int64

		err := rows.Scan(
			&m.Subject.ChainID, &m.Subject.Address, &m.SampledAt,
			&m.PriceUSD, &m.LiquidityUSD, &m.Volume24h, &m.MarketCap, &holders,
		)
		if err != nil {
			return nil, fmt.Errorf("scan token metrics row: %w", err)
		}

		m.HolderCount = int(holders)
		samples = append(samples, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token metrics rows: %w", err)
	}

	return samples, nil
}
