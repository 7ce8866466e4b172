package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// Lookup returns the display name and number for id, or nil when no row exists.
func (s *Store) Lookup(ctx context.Context, id string) (*recovery.Metadata, error) {
	query := fmt.Sprintf(
		`SELECT coalesce(display_name, ''), coalesce(display_number, '') FROM %s WHERE id = $1`,
		s.metadataTable,
	)
	var meta recovery.Metadata
	err := s.pool.QueryRow(ctx, query, id).Scan(&meta.DisplayName, &meta.DisplayNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup metadata %s: %w", id, err)
	}
	return &meta, nil
}
