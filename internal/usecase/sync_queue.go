package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/domain/localdb"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
)

const DefaultMaxAttempts = 3

type SyncQueueConfig struct {
	// MaxAttempts is the number of retries after the first dispatch. An entry is
	// dead-lettered once its failed attempts exceed it.
	MaxAttempts int
}

// SyncQueue is the single write path for entity mutations. Every change lands
// in the local store and the pending queue within one transaction.
type SyncQueue struct {
	uow         localdb.UnitOfWork
	validate    *validator.Validate
	maxAttempts int
	clock       clockwork.Clock
	logger      *logging.Logger

	writeMu sync.Mutex

	leaseMu sync.Mutex
	leases  map[record.Key]int64
}

func NewSyncQueue(uow localdb.UnitOfWork, cfg SyncQueueConfig, clock clockwork.Clock, logger *logging.Logger) *SyncQueue {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncQueue{
		uow:         uow,
		validate:    newEntityValidator(),
		maxAttempts: cfg.MaxAttempts,
		clock:       clock,
		logger:      logger.Named("syncqueue"),
		leases:      make(map[record.Key]int64),
	}
}

func (q *SyncQueue) MaxAttempts() int {
	return q.maxAttempts
}

type enqueueOptions struct {
	mirrors []record.Entity
}

type EnqueueOption func(*enqueueOptions)

// WithLocalMirror upserts extra rows in the same transaction without queueing
// them. Used for state the backend derives on its own side.
func WithLocalMirror(entities ...record.Entity) EnqueueOption {
	return func(o *enqueueOptions) {
		o.mirrors = append(o.mirrors, entities...)
	}
}

type EnqueueResult struct {
	Entry syncqueue.Entry
	Row   record.Row
	// Coalesced is set when the mutation merged into an already pending entry.
	Coalesced bool
	// Cancelled is set when a delete removed a create that never left the device.
	Cancelled bool
}

func (q *SyncQueue) Enqueue(ctx context.Context, op syncqueue.Operation, entity record.Entity, opts ...EnqueueOption) (EnqueueResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SyncQueue.Enqueue")
	defer span.End()

	if !op.Valid() {
		return EnqueueResult{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, op)
	}
	if entity == nil {
		return EnqueueResult{}, fmt.Errorf("%w: entity is required", ErrInvalidInput)
	}
	key := entity.RecordKey()
	if !key.Type.Valid() || key.ID == "" {
		return EnqueueResult{}, fmt.Errorf("%w: invalid entity key %s", ErrInvalidInput, key)
	}
	if op != syncqueue.OperationDelete {
		if err := validateEntity(ctx, q.validate, entity); err != nil {
			return EnqueueResult{}, err
		}
	}

	var options enqueueOptions
	for _, opt := range opts {
		opt(&options)
	}
	for _, mirror := range options.mirrors {
		if err := validateEntity(ctx, q.validate, mirror); err != nil {
			return EnqueueResult{}, err
		}
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	var result EnqueueResult
	err := q.uow.Within(ctx, func(ctx context.Context, s localdb.Session) error {
		row, err := applyLocal(ctx, s.Records(), op, entity)
		if err != nil {
			return err
		}
		payload, err := syncqueue.EncodePayload(row.Entity)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", key, err)
		}

		existing, pending, err := s.Queue().Get(ctx, key)
		if err != nil {
			return err
		}
		var current *syncqueue.Entry
		if pending {
			current = &existing
		}

		now := q.clock.Now().UTC()
		incoming := syncqueue.Entry{
			EntityType: key.Type,
			EntityID:   key.ID,
			Operation:  op,
			Payload:    payload,
			EnqueuedAt: now,
			UpdatedAt:  now,
		}
		merged, outcome, err := syncqueue.Coalesce(current, incoming, q.isLeased(key))
		if err != nil {
			if errors.Is(err, syncqueue.ErrEntityDeleted) {
				return fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			return err
		}

		result.Row = row
		switch outcome {
		case syncqueue.OutcomeCancelled:
			if err := s.Queue().Remove(ctx, key); err != nil {
				return err
			}
			if err := s.Records().Purge(ctx, key); err != nil {
				return err
			}
			result.Cancelled = true
			result.Entry = existing
		default:
			if err := s.Queue().Put(ctx, merged); err != nil {
				return err
			}
			result.Entry = merged
			result.Coalesced = outcome == syncqueue.OutcomeCoalesced
		}

		for _, mirror := range options.mirrors {
			if _, err := s.Records().Upsert(ctx, mirror); err != nil {
				return mapStoreError(fmt.Errorf("mirror %s: %w", mirror.RecordKey(), err))
			}
		}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}

	q.logger.DebugContext(ctx, "mutation enqueued",
		"entity", key.String(),
		"operation", result.Entry.Operation,
		"revision", result.Entry.Revision,
		"coalesced", result.Coalesced,
		"cancelled", result.Cancelled,
	)
	return result, nil
}

func applyLocal(ctx context.Context, store record.Store, op syncqueue.Operation, entity record.Entity) (record.Row, error) {
	key := entity.RecordKey()
	if op != syncqueue.OperationDelete {
		row, err := store.Upsert(ctx, entity)
		if err != nil {
			return record.Row{}, mapStoreError(err)
		}
		return row, nil
	}

	row, ok, err := store.GetByID(ctx, key)
	if err != nil {
		return record.Row{}, err
	}
	if !ok {
		return record.Row{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if !row.Meta.Deleted {
		if err := store.SoftDelete(ctx, key); err != nil {
			return record.Row{}, mapStoreError(err)
		}
		row.Meta.Deleted = true
	}
	return row, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, record.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, record.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, record.ErrUnknownField), errors.Is(err, record.ErrUnknownType):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return err
	}
}

// DequeueBatch returns the oldest pending entries without removing them and
// leases each one at its current revision.
func (q *SyncQueue) DequeueBatch(ctx context.Context, maxCount int) ([]syncqueue.Entry, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SyncQueue.DequeueBatch")
	defer span.End()

	if maxCount < 1 {
		return nil, nil
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	entries, err := q.uow.Queue().ListOldest(ctx, maxCount)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}

	q.leaseMu.Lock()
	for _, entry := range entries {
		q.leases[entry.Key()] = entry.Revision
	}
	q.leaseMu.Unlock()
	return entries, nil
}

// ReleaseLease drops the lease without touching the entry, for dispatches
// abandoned before an outcome was known.
func (q *SyncQueue) ReleaseLease(key record.Key) {
	q.leaseMu.Lock()
	delete(q.leases, key)
	q.leaseMu.Unlock()
}

func (q *SyncQueue) isLeased(key record.Key) bool {
	q.leaseMu.Lock()
	defer q.leaseMu.Unlock()
	_, ok := q.leases[key]
	return ok
}

// MarkSucceeded settles a dispatched entry. When newer mutations were coalesced
// into it during the flight, the entry stays queued with the newer payload; a
// create that reached the backend is downgraded to an update.
func (q *SyncQueue) MarkSucceeded(ctx context.Context, entry syncqueue.Entry, at time.Time) error {
	ctx, span := startUsecaseSpan(ctx, "usecase.SyncQueue.MarkSucceeded")
	defer span.End()

	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	defer q.ReleaseLease(entry.Key())

	key := entry.Key()
	return q.uow.Within(ctx, func(ctx context.Context, s localdb.Session) error {
		current, ok, err := s.Queue().Get(ctx, key)
		if err != nil {
			return err
		}

		if ok && current.Revision != entry.Revision {
			if entry.Operation == syncqueue.OperationCreate && current.Operation == syncqueue.OperationCreate {
				current.Operation = syncqueue.OperationUpdate
			}
			current.SyncAttempts = 0
			current.LastError = ""
			if err := s.Queue().Put(ctx, current); err != nil {
				return err
			}
			if entry.Operation == syncqueue.OperationDelete {
				return nil
			}
			return s.Records().MarkSynced(ctx, key, at)
		}

		if ok {
			if err := s.Queue().Remove(ctx, key); err != nil {
				return err
			}
		}
		if entry.Operation == syncqueue.OperationDelete {
			return s.Records().Purge(ctx, key)
		}
		return s.Records().MarkSynced(ctx, key, at)
	})
}

type FailureOutcome struct {
	Attempts     int
	DeadLettered bool
	DeadLetter   syncqueue.DeadLetter
	// Stale means the entry changed during the flight and the failure was ignored.
	Stale bool
}

// MarkFailed records a failed dispatch. The entry is dead-lettered when the
// failure is permanent or the attempt budget is spent; the local row is never touched
// beyond its attempt counter.
func (q *SyncQueue) MarkFailed(ctx context.Context, entry syncqueue.Entry, cause error, retryable bool) (FailureOutcome, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SyncQueue.MarkFailed")
	defer span.End()

	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	defer q.ReleaseLease(entry.Key())

	if cause == nil {
		cause = remote.ErrUnknown
	}
	key := entry.Key()

	var outcome FailureOutcome
	err := q.uow.Within(ctx, func(ctx context.Context, s localdb.Session) error {
		current, ok, err := s.Queue().Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok || current.Revision != entry.Revision {
			outcome.Stale = true
			return nil
		}

		now := q.clock.Now().UTC()
		current.SyncAttempts++
		current.LastError = cause.Error()
		current.UpdatedAt = now
		outcome.Attempts = current.SyncAttempts

		if err := s.Records().SetSyncAttempts(ctx, key, current.SyncAttempts); err != nil {
			return err
		}

		if retryable && current.SyncAttempts <= q.maxAttempts {
			return s.Queue().Put(ctx, current)
		}

		letter := syncqueue.DeadLetter{
			Entry:        current,
			ErrorKind:    string(remote.KindOf(cause)),
			ErrorMessage: cause.Error(),
			FailedAt:     now,
		}
		id, err := s.Queue().AddDeadLetter(ctx, letter)
		if err != nil {
			return err
		}
		letter.ID = id
		if err := s.Queue().Remove(ctx, key); err != nil {
			return err
		}
		outcome.DeadLettered = true
		outcome.DeadLetter = letter
		return nil
	})
	if err != nil {
		return FailureOutcome{}, err
	}

	if outcome.DeadLettered {
		q.logger.WarnContext(ctx, "mutation dead-lettered",
			"entity", key.String(),
			"operation", entry.Operation,
			"attempts", outcome.Attempts,
			"error", cause,
		)
	}
	return outcome, nil
}

func (q *SyncQueue) Get(ctx context.Context, key record.Key) (syncqueue.Entry, bool, error) {
	return q.uow.Queue().Get(ctx, key)
}

// Pending counts queued entries.
func (q *SyncQueue) Pending(ctx context.Context) (int, error) {
	return q.uow.Queue().Count(ctx)
}

func (q *SyncQueue) DeadLetters(ctx context.Context) ([]syncqueue.DeadLetter, error) {
	return q.uow.Queue().ListDeadLetters(ctx)
}

func (q *SyncQueue) DeadLetterFor(ctx context.Context, key record.Key) (syncqueue.DeadLetter, bool, error) {
	return q.uow.Queue().LatestDeadLetter(ctx, key)
}

// RetryDeadLetter puts a parked entry back in line with a fresh attempt budget.
func (q *SyncQueue) RetryDeadLetter(ctx context.Context, id int64) (syncqueue.Entry, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SyncQueue.RetryDeadLetter")
	defer span.End()

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	var revived syncqueue.Entry
	err := q.uow.Within(ctx, func(ctx context.Context, s localdb.Session) error {
		letter, ok, err := s.Queue().GetDeadLetter(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: dead letter %d", ErrNotFound, id)
		}

		revived, err = q.revive(ctx, s, letter.Entry)
		if err != nil {
			return err
		}
		if err := s.Records().SetSyncAttempts(ctx, letter.Entry.Key(), 0); err != nil {
			return err
		}
		return s.Queue().RemoveDeadLetter(ctx, id)
	})
	return revived, err
}

// DismissDeadLetter acknowledges a parked entry. The local row keeps its state.
func (q *SyncQueue) DismissDeadLetter(ctx context.Context, id int64) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	return q.uow.Within(ctx, func(ctx context.Context, s localdb.Session) error {
		if _, ok, err := s.Queue().GetDeadLetter(ctx, id); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: dead letter %d", ErrNotFound, id)
		}
		return s.Queue().RemoveDeadLetter(ctx, id)
	})
}

// Resubmit replaces a dead letter with a recomputed entity, keeping the
// original operation. Used by conflict resolution.
func (q *SyncQueue) Resubmit(ctx context.Context, id int64, entity record.Entity, opts ...EnqueueOption) (syncqueue.Entry, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SyncQueue.Resubmit")
	defer span.End()

	if err := validateEntity(ctx, q.validate, entity); err != nil {
		return syncqueue.Entry{}, err
	}
	var options enqueueOptions
	for _, opt := range opts {
		opt(&options)
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	var revived syncqueue.Entry
	err := q.uow.Within(ctx, func(ctx context.Context, s localdb.Session) error {
		letter, ok, err := s.Queue().GetDeadLetter(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: dead letter %d", ErrNotFound, id)
		}
		if letter.Entry.Key() != entity.RecordKey() {
			return fmt.Errorf("%w: dead letter %d belongs to %s", ErrInvalidInput, id, letter.Entry.Key())
		}

		row, err := s.Records().Upsert(ctx, entity)
		if err != nil {
			return mapStoreError(err)
		}
		payload, err := syncqueue.EncodePayload(row.Entity)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", entity.RecordKey(), err)
		}
		for _, mirror := range options.mirrors {
			if _, err := s.Records().Upsert(ctx, mirror); err != nil {
				return mapStoreError(err)
			}
		}

		entry := letter.Entry
		entry.Payload = payload
		revived, err = q.revive(ctx, s, entry)
		if err != nil {
			return err
		}
		if err := s.Records().SetSyncAttempts(ctx, entry.Key(), 0); err != nil {
			return err
		}
		return s.Queue().RemoveDeadLetter(ctx, id)
	})
	return revived, err
}

// revive queues a previously parked entry. A newer pending entry for the same
// entity wins on payload, but a create that never reached the backend must still be sent as one.
func (q *SyncQueue) revive(ctx context.Context, s localdb.Session, parked syncqueue.Entry) (syncqueue.Entry, error) {
	now := q.clock.Now().UTC()
	key := parked.Key()

	existing, pending, err := s.Queue().Get(ctx, key)
	if err != nil {
		return syncqueue.Entry{}, err
	}

	if !pending {
		parked.SyncAttempts = 0
		parked.LastError = ""
		parked.Revision = 1
		parked.EnqueuedAt = now
		parked.UpdatedAt = now
		if err := s.Queue().Put(ctx, parked); err != nil {
			return syncqueue.Entry{}, err
		}
		return parked, nil
	}

	if parked.Operation == syncqueue.OperationCreate && existing.Operation == syncqueue.OperationUpdate {
		existing.Operation = syncqueue.OperationCreate
	}
	if existing.Operation != syncqueue.OperationDelete && len(parked.Payload) > 0 && parked.UpdatedAt.After(existing.UpdatedAt) {
		existing.Payload = parked.Payload
	}
	existing.Revision++
	existing.UpdatedAt = now
	if err := s.Queue().Put(ctx, existing); err != nil {
		return syncqueue.Entry{}, err
	}
	return existing, nil
}
