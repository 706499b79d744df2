package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	qb "github.com/riskibarqy/teamsync/internal/platform/querybuilder"
)

const (
	queueTable      = "sync_queue"
	deadLetterTable = "sync_dead_letters"
)

type queueEntryModel struct {
	EntityType   string `db:"entity_type"`
	EntityID     string `db:"entity_id"`
	Operation    string `db:"operation"`
	Payload      string `db:"payload"`
	SyncAttempts int    `db:"sync_attempts"`
	Revision     int64  `db:"revision"`
	LastError    string `db:"last_error"`
	EnqueuedAt   string `db:"enqueued_at"`
	UpdatedAt    string `db:"updated_at"`
}

type deadLetterInsertModel struct {
	queueEntryModel
	ErrorKind    string `db:"error_kind"`
	ErrorMessage string `db:"error_message"`
	FailedAt     string `db:"failed_at"`
}

type deadLetterTableModel struct {
	ID int64 `db:"id"`
	deadLetterInsertModel
}

func entryToModel(e syncqueue.Entry) queueEntryModel {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	return queueEntryModel{
		EntityType:   string(e.EntityType),
		EntityID:     e.EntityID,
		Operation:    string(e.Operation),
		Payload:      payload,
		SyncAttempts: e.SyncAttempts,
		Revision:     e.Revision,
		LastError:    e.LastError,
		EnqueuedAt:   formatTime(e.EnqueuedAt),
		UpdatedAt:    formatTime(e.UpdatedAt),
	}
}

func entryFromModel(m queueEntryModel) (syncqueue.Entry, error) {
	entityType, err := record.ParseType(m.EntityType)
	if err != nil {
		return syncqueue.Entry{}, err
	}
	op, err := syncqueue.ParseOperation(m.Operation)
	if err != nil {
		return syncqueue.Entry{}, err
	}
	enqueued, err := parseTime(m.EnqueuedAt)
	if err != nil {
		return syncqueue.Entry{}, err
	}
	updated, err := parseTime(m.UpdatedAt)
	if err != nil {
		return syncqueue.Entry{}, err
	}
	return syncqueue.Entry{
		EntityType:   entityType,
		EntityID:     m.EntityID,
		Operation:    op,
		Payload:      []byte(m.Payload),
		SyncAttempts: m.SyncAttempts,
		Revision:     m.Revision,
		LastError:    m.LastError,
		EnqueuedAt:   enqueued,
		UpdatedAt:    updated,
	}, nil
}

// QueueRepository implements syncqueue.Repository.
type QueueRepository struct {
	q sqlx.ExtContext
}

func (r *QueueRepository) Get(ctx context.Context, key record.Key) (syncqueue.Entry, bool, error) {
	query, args, err := qb.Select("*").From(queueTable).
		Where(qb.Eq("entity_type", string(key.Type)), qb.Eq("entity_id", key.ID)).
		ToSQL()
	if err != nil {
		return syncqueue.Entry{}, false, fmt.Errorf("build get queue entry query: %w", err)
	}

	var row queueEntryModel
	if err := sqlx.GetContext(ctx, r.q, &row, query, args...); err != nil {
		if isNotFound(err) {
			return syncqueue.Entry{}, false, nil
		}
		return syncqueue.Entry{}, false, fmt.Errorf("get queue entry %s: %w", key, err)
	}
	entry, err := entryFromModel(row)
	if err != nil {
		return syncqueue.Entry{}, false, err
	}
	return entry, true, nil
}

// Put inserts the entry or replaces the one pending for the same key.
// The original enqueue time is kept so the entry holds its place in line.
func (r *QueueRepository) Put(ctx context.Context, entry syncqueue.Entry) error {
	model := entryToModel(entry)
	cols, err := qb.Columns(model)
	if err != nil {
		return err
	}
	suffix := "ON CONFLICT(entity_type, entity_id) DO UPDATE SET " +
		qb.ExcludedAssignments(cols, "entity_type", "entity_id", "enqueued_at")

	query, args, err := qb.InsertModel(qb.SQLite, queueTable, model, suffix)
	if err != nil {
		return fmt.Errorf("build put queue entry query: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("put queue entry %s: %w", entry.Key(), err)
	}
	return nil
}

func (r *QueueRepository) Remove(ctx context.Context, key record.Key) error {
	query, args, err := qb.DeleteFrom(queueTable).
		Where(qb.Eq("entity_type", string(key.Type)), qb.Eq("entity_id", key.ID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build remove queue entry query: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove queue entry %s: %w", key, err)
	}
	return nil
}

func (r *QueueRepository) ListOldest(ctx context.Context, limit int) ([]syncqueue.Entry, error) {
	builder := qb.Select("*").From(queueTable).OrderBy("enqueued_at ASC", "rowid ASC")
	if limit > 0 {
		builder.Limit(limit)
	}
	query, args, err := builder.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list queue query: %w", err)
	}

	var rows []queueEntryModel
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}

	out := make([]syncqueue.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := entryFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *QueueRepository) Count(ctx context.Context) (int, error) {
	query, args, err := qb.Select("COUNT(*)").From(queueTable).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count queue query: %w", err)
	}
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

func (r *QueueRepository) AddDeadLetter(ctx context.Context, letter syncqueue.DeadLetter) (int64, error) {
	failedAt := letter.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}
	model := deadLetterInsertModel{
		queueEntryModel: entryToModel(letter.Entry),
		ErrorKind:       letter.ErrorKind,
		ErrorMessage:    letter.ErrorMessage,
		FailedAt:        formatTime(failedAt),
	}

	query, args, err := qb.InsertModel(qb.SQLite, deadLetterTable, model, "")
	if err != nil {
		return 0, fmt.Errorf("build add dead letter query: %w", err)
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("add dead letter %s: %w", letter.Entry.Key(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("dead letter id: %w", err)
	}
	return id, nil
}

func (r *QueueRepository) ListDeadLetters(ctx context.Context) ([]syncqueue.DeadLetter, error) {
	query, args, err := qb.Select("*").From(deadLetterTable).OrderBy("id ASC").ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list dead letters query: %w", err)
	}
	return r.selectDeadLetters(ctx, query, args)
}

func (r *QueueRepository) GetDeadLetter(ctx context.Context, id int64) (syncqueue.DeadLetter, bool, error) {
	query, args, err := qb.Select("*").From(deadLetterTable).Where(qb.Eq("id", id)).ToSQL()
	if err != nil {
		return syncqueue.DeadLetter{}, false, fmt.Errorf("build get dead letter query: %w", err)
	}
	return r.firstDeadLetter(ctx, query, args)
}

// LatestDeadLetter returns the most recent dead letter recorded for key.
func (r *QueueRepository) LatestDeadLetter(ctx context.Context, key record.Key) (syncqueue.DeadLetter, bool, error) {
	query, args, err := qb.Select("*").From(deadLetterTable).
		Where(qb.Eq("entity_type", string(key.Type)), qb.Eq("entity_id", key.ID)).
		OrderBy("id DESC").
		Limit(1).
		ToSQL()
	if err != nil {
		return syncqueue.DeadLetter{}, false, fmt.Errorf("build latest dead letter query: %w", err)
	}
	return r.firstDeadLetter(ctx, query, args)
}

func (r *QueueRepository) RemoveDeadLetter(ctx context.Context, id int64) error {
	query, args, err := qb.DeleteFrom(deadLetterTable).Where(qb.Eq("id", id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build remove dead letter query: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove dead letter %d: %w", id, err)
	}
	return nil
}

func (r *QueueRepository) firstDeadLetter(ctx context.Context, query string, args []any) (syncqueue.DeadLetter, bool, error) {
	letters, err := r.selectDeadLetters(ctx, query, args)
	if err != nil {
		return syncqueue.DeadLetter{}, false, err
	}
	if len(letters) == 0 {
		return syncqueue.DeadLetter{}, false, nil
	}
	return letters[0], true, nil
}

func (r *QueueRepository) selectDeadLetters(ctx context.Context, query string, args []any) ([]syncqueue.DeadLetter, error) {
	var rows []deadLetterTableModel
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select dead letters: %w", err)
	}

	out := make([]syncqueue.DeadLetter, 0, len(rows))
	for _, row := range rows {
		entry, err := entryFromModel(row.queueEntryModel)
		if err != nil {
			return nil, err
		}
		failedAt, err := parseTime(row.FailedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, syncqueue.DeadLetter{
			ID:           row.ID,
			Entry:        entry,
			ErrorKind:    row.ErrorKind,
			ErrorMessage: row.ErrorMessage,
			FailedAt:     failedAt,
		})
	}
	return out, nil
}

var _ syncqueue.Repository = (*QueueRepository)(nil)
