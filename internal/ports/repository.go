package ports

import (
	"context"

	"optionsBrain/internal/domain"
)

// PositionRepository persists the position table keyed by trade id. It is the
// restart source of truth: every lifecycle mutation is written through before
// the in-memory table is considered consistent.
type PositionRepository interface {
	// Save inserts or replaces a position by its trade id.
	Save(ctx context.Context, pos *domain.Position) error
	// Delete removes a position by trade id. Deleting a missing position is
	// not an error (reconciliation must stay idempotent).
	Delete(ctx context.Context, tradeID string) error
	// LoadAll retrieves every persisted position, for startup recovery.
	LoadAll(ctx context.Context) ([]*domain.Position, error)
}
