package localdb

import (
	"context"

	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
)

// Session exposes the record store and queue repository bound to one connection or transaction.
type Session interface {
	Records() record.Store
	Queue() syncqueue.Repository
}

// UnitOfWork runs fn atomically: everything fn writes through s commits together or not at all.
type UnitOfWork interface {
	Session
	Within(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}
