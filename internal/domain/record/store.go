package record

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicate    = errors.New("record violates a unique constraint")
	ErrUnknownField = errors.New("unknown record field")
	ErrUnknownType  = errors.New("unknown record type")
	ErrNotFound     = errors.New("record not found")
)

// Store is the on-device cache of entity rows. Reads never touch the network.
type Store interface {
	Upsert(ctx context.Context, entity Entity) (Row, error)
	SoftDelete(ctx context.Context, key Key) error
	Purge(ctx context.Context, key Key) error
	GetAll(ctx context.Context, entityType Type, query Query) ([]Row, error)
	GetByID(ctx context.Context, key Key) (Row, bool, error)
	MarkSynced(ctx context.Context, key Key, at time.Time) error
	SetSyncAttempts(ctx context.Context, key Key, attempts int) error
}
