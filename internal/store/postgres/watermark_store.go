package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// WatermarkStore implements domain.WatermarkStore on address_watermarks.
type WatermarkStore struct {
	pool *pgxpool.Pool
}

func NewWatermarkStore(pool *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

const watermarkSelectCols = `address, signature, slot, processed, updated_at`

func scanWatermark(scanner interface{ Scan(dest ...any) error }) (domain.Watermark, error) {
	var (
		wm   domain.Watermark
		slot int64
	)
	if err := scanner.Scan(&wm.Address, &wm.Signature, &slot, &wm.Processed, &wm.UpdatedAt); err != nil {
		return domain.Watermark{}, err
	}
	wm.Slot = uint64(slot)
	return wm, nil
}

func (s *WatermarkStore) Get(ctx context.Context, address string) (domain.Watermark, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+watermarkSelectCols+` FROM address_watermarks WHERE address = $1`, address)

	wm, err := scanWatermark(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Watermark{}, fmt.Errorf("postgres: watermark %s: %w", address, domain.ErrNotFound)
		}
		return domain.Watermark{}, fmt.Errorf("postgres: get watermark %s: %w", address, err)
	}
	return wm, nil
}

// Set upserts the watermark for wm.Address.
func (s *WatermarkStore) Set(ctx context.Context, wm domain.Watermark) error {
	const query = `
		INSERT INTO address_watermarks (address, signature, slot, processed, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE SET
			signature = EXCLUDED.signature,
			slot = EXCLUDED.slot,
			processed = EXCLUDED.processed,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, wm.Address, wm.Signature, int64(wm.Slot), wm.Processed); err != nil {
		return fmt.Errorf("postgres: set watermark %s: %w", wm.Address, err)
	}
	return nil
}

func (s *WatermarkStore) List(ctx context.Context) ([]domain.Watermark, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+watermarkSelectCols+` FROM address_watermarks ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watermarks: %w", err)
	}
	defer rows.Close()

	var out []domain.Watermark
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan watermark: %w", err)
		}
		out = append(out, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list watermarks rows: %w", err)
	}
	return out, nil
}

var _ domain.WatermarkStore = (*WatermarkStore)(nil)
