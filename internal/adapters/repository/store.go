// Package repository archives processed classifications so the scoring state
// can be rebuilt after a restart.
package repository

import (
	"context"

	"github.com/okian/swapbridge/internal/domain/model"
)

// Store is an append-only log of classifications.
type Store interface {
	// Append records ev. Appending an id that is already stored is a no-op.
	Append(ctx context.Context, ev model.ClassificationEvent) error

	// Replay calls fn for every stored classification in append order.
	// A non-nil error from fn stops the replay and is returned.
	Replay(ctx context.Context, fn func(model.ClassificationEvent) error) error

	// Count returns the number of stored classifications.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying resources.
	Close() error
}
