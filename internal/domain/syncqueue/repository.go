package syncqueue

import (
	"context"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

// Repository persists pending entries and dead letters.
type Repository interface {
	Get(ctx context.Context, key record.Key) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Remove(ctx context.Context, key record.Key) error
	// ListOldest returns pending entries by enqueue time, oldest first.
	ListOldest(ctx context.Context, limit int) ([]Entry, error)
	Count(ctx context.Context) (int, error)

	AddDeadLetter(ctx context.Context, letter DeadLetter) (int64, error)
	ListDeadLetters(ctx context.Context) ([]DeadLetter, error)
	GetDeadLetter(ctx context.Context, id int64) (DeadLetter, bool, error)
	LatestDeadLetter(ctx context.Context, key record.Key) (DeadLetter, bool, error)
	RemoveDeadLetter(ctx context.Context, id int64) error
}
