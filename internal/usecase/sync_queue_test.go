package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/domain/team"
)

var t1 = record.Key{Type: record.TypeTeam, ID: "t1"}

func TestSyncQueue_Enqueue_CoalescesCreateAndUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	res, err := env.queue.Enqueue(ctx, syncqueue.OperationUpdate, newTestTeam("t1", "Hawks"))
	if err != nil {
		t.Fatalf("enqueue update: %v", err)
	}
	if !res.Coalesced {
		t.Fatalf("expected update to coalesce into pending create")
	}

	pending, err := env.queue.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected one pending entry, got %d", pending)
	}

	entry, ok, err := env.queue.Get(ctx, t1)
	if err != nil || !ok {
		t.Fatalf("get entry ok=%t err=%v", ok, err)
	}
	if entry.Operation != syncqueue.OperationCreate {
		t.Fatalf("expected create to survive coalescing, got %s", entry.Operation)
	}
	if entry.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", entry.Revision)
	}
	if got := decodePayload(t, entry.Payload)["name"]; got != "Hawks" {
		t.Fatalf("expected last write to win, got name=%v", got)
	}
}

func TestSyncQueue_Enqueue_DeleteCancelsUndispatchedCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	res, err := env.queue.Enqueue(ctx, syncqueue.OperationDelete, team.Team{ID: "t1"})
	if err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	if !res.Cancelled {
		t.Fatalf("expected delete to cancel the pending create")
	}

	if _, ok, err := env.queue.Get(ctx, t1); err != nil || ok {
		t.Fatalf("expected no pending entry, ok=%t err=%v", ok, err)
	}
	if _, ok, err := env.db.Records().GetByID(ctx, t1); err != nil || ok {
		t.Fatalf("expected local row to be purged, ok=%t err=%v", ok, err)
	}
}

func TestSyncQueue_Enqueue_DeleteOfLeasedCreateEscalates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	if _, err := env.queue.DequeueBatch(ctx, 5); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	res, err := env.queue.Enqueue(ctx, syncqueue.OperationDelete, team.Team{ID: "t1"})
	if err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	if res.Cancelled || res.Entry.Operation != syncqueue.OperationDelete {
		t.Fatalf("expected delete while create is in flight, got %+v", res)
	}

	row, ok, err := env.db.Records().GetByID(ctx, t1)
	if err != nil || !ok {
		t.Fatalf("get row ok=%t err=%v", ok, err)
	}
	if !row.Meta.Deleted {
		t.Fatalf("expected row to be soft deleted")
	}
}

func TestSyncQueue_Enqueue_DeleteAfterFailedCreateIsSent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, err := env.queue.DequeueBatch(ctx, 5)
	if err != nil || len(batch) != 1 {
		t.Fatalf("dequeue len=%d err=%v", len(batch), err)
	}
	// a timed out create may still have been committed remotely
	if _, err := env.queue.MarkFailed(ctx, batch[0], remote.Errorf(remote.KindNetwork, "i/o timeout"), true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	res, err := env.queue.Enqueue(ctx, syncqueue.OperationDelete, team.Team{ID: "t1"})
	if err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	if res.Cancelled || res.Entry.Operation != syncqueue.OperationDelete {
		t.Fatalf("expected delete to be kept for dispatch, got %+v", res)
	}

	entry, ok, err := env.queue.Get(ctx, t1)
	if err != nil || !ok {
		t.Fatalf("expected pending delete ok=%t err=%v", ok, err)
	}
	if entry.Operation != syncqueue.OperationDelete || entry.SyncAttempts != 1 {
		t.Fatalf("unexpected pending entry: %+v", entry)
	}
	row, ok, err := env.db.Records().GetByID(ctx, t1)
	if err != nil || !ok || !row.Meta.Deleted {
		t.Fatalf("expected soft deleted local row, ok=%t err=%v meta=%+v", ok, err, row.Meta)
	}
}

func TestSyncQueue_Enqueue_RejectsWriteAfterPendingDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	if _, err := env.queue.DequeueBatch(ctx, 5); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationDelete, team.Team{ID: "t1"}); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}

	_, err := env.queue.Enqueue(ctx, syncqueue.OperationUpdate, newTestTeam("t1", "Hawks"))
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, syncqueue.ErrEntityDeleted) {
		t.Fatalf("expected pending delete rejection, got %v", err)
	}
}

func TestSyncQueue_Enqueue_ValidationFailureWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	invalid := newTestTeam("t1", "")
	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, invalid); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if pending, _ := env.queue.Pending(ctx); pending != 0 {
		t.Fatalf("expected empty queue, got %d", pending)
	}
	if _, ok, _ := env.db.Records().GetByID(ctx, t1); ok {
		t.Fatalf("expected no local row")
	}
}

func TestSyncQueue_Enqueue_DeleteOfUnknownEntity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.queue.Enqueue(context.Background(), syncqueue.OperationDelete, team.Team{ID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncQueue_MarkFailed_DeadLettersAfterMaxRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	cause := remote.Errorf(remote.KindNetwork, "dial tcp: connection refused")
	lastAttempt := DefaultMaxAttempts + 1
	for attempt := 1; attempt <= lastAttempt; attempt++ {
		batch, err := env.queue.DequeueBatch(ctx, 5)
		if err != nil || len(batch) != 1 {
			t.Fatalf("attempt %d: dequeue len=%d err=%v", attempt, len(batch), err)
		}
		outcome, err := env.queue.MarkFailed(ctx, batch[0], cause, true)
		if err != nil {
			t.Fatalf("attempt %d: mark failed: %v", attempt, err)
		}
		if outcome.Attempts != attempt {
			t.Fatalf("attempt %d: unexpected attempts %d", attempt, outcome.Attempts)
		}
		if want := attempt == lastAttempt; outcome.DeadLettered != want {
			t.Fatalf("attempt %d: dead lettered=%t want %t", attempt, outcome.DeadLettered, want)
		}
	}

	if pending, _ := env.queue.Pending(ctx); pending != 0 {
		t.Fatalf("expected dead-lettered entry to leave the queue, pending=%d", pending)
	}
	letters, err := env.queue.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].ErrorKind != string(remote.KindNetwork) {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}

	row, ok, err := env.db.Records().GetByID(ctx, t1)
	if err != nil || !ok {
		t.Fatalf("local row must survive dead-lettering ok=%t err=%v", ok, err)
	}
	if row.Meta.SyncAttempts != lastAttempt {
		t.Fatalf("expected row attempts %d, got %d", lastAttempt, row.Meta.SyncAttempts)
	}
}

func TestSyncQueue_MarkFailed_NonRetryableDeadLettersImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, _ := env.queue.DequeueBatch(ctx, 5)
	outcome, err := env.queue.MarkFailed(ctx, batch[0], remote.Errorf(remote.KindValidation, "name too long"), false)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !outcome.DeadLettered || outcome.Attempts != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	letter, ok, err := env.queue.DeadLetterFor(ctx, t1)
	if err != nil || !ok {
		t.Fatalf("dead letter for t1 ok=%t err=%v", ok, err)
	}
	if letter.ErrorKind != string(remote.KindValidation) {
		t.Fatalf("unexpected error kind %q", letter.ErrorKind)
	}
}

func TestSyncQueue_MarkSucceeded_KeepsEntryCoalescedDuringFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, _ := env.queue.DequeueBatch(ctx, 5)
	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationUpdate, newTestTeam("t1", "Hawks")); err != nil {
		t.Fatalf("enqueue update: %v", err)
	}

	if err := env.queue.MarkSucceeded(ctx, batch[0], env.clock.Now()); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	entry, ok, err := env.queue.Get(ctx, t1)
	if err != nil || !ok {
		t.Fatalf("expected newer mutation to stay queued ok=%t err=%v", ok, err)
	}
	if entry.Operation != syncqueue.OperationUpdate {
		t.Fatalf("expected delivered create to become update, got %s", entry.Operation)
	}
	if got := decodePayload(t, entry.Payload)["name"]; got != "Hawks" {
		t.Fatalf("unexpected payload name %v", got)
	}
}

func TestSyncQueue_MarkFailed_IgnoresSupersededRevision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, _ := env.queue.DequeueBatch(ctx, 5)
	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationUpdate, newTestTeam("t1", "Hawks")); err != nil {
		t.Fatalf("enqueue update: %v", err)
	}

	outcome, err := env.queue.MarkFailed(ctx, batch[0], remote.ErrValidation, false)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !outcome.Stale || outcome.DeadLettered {
		t.Fatalf("expected stale outcome, got %+v", outcome)
	}
	if entry, ok, _ := env.queue.Get(ctx, t1); !ok || entry.SyncAttempts != 0 {
		t.Fatalf("expected fresh entry untouched, ok=%t entry=%+v", ok, entry)
	}
}

func TestSyncQueue_SyncedDeletePurgesRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, _ := env.queue.DequeueBatch(ctx, 5)
	if err := env.queue.MarkSucceeded(ctx, batch[0], env.clock.Now()); err != nil {
		t.Fatalf("mark create succeeded: %v", err)
	}
	row, _, _ := env.db.Records().GetByID(ctx, t1)
	if !row.Meta.Synced() {
		t.Fatalf("expected row to be marked synced")
	}

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationDelete, team.Team{ID: "t1"}); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	batch, _ = env.queue.DequeueBatch(ctx, 5)
	if len(batch) != 1 || batch[0].Operation != syncqueue.OperationDelete {
		t.Fatalf("expected a pending delete, got %+v", batch)
	}
	if err := env.queue.MarkSucceeded(ctx, batch[0], env.clock.Now()); err != nil {
		t.Fatalf("mark delete succeeded: %v", err)
	}
	if _, ok, _ := env.db.Records().GetByID(ctx, t1); ok {
		t.Fatalf("expected row purged after remote delete")
	}
}

func TestSyncQueue_RetryDeadLetter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, _ := env.queue.DequeueBatch(ctx, 5)
	outcome, err := env.queue.MarkFailed(ctx, batch[0], remote.ErrUnauthorized, false)
	if err != nil || !outcome.DeadLettered {
		t.Fatalf("expected dead letter, outcome=%+v err=%v", outcome, err)
	}

	entry, err := env.queue.RetryDeadLetter(ctx, outcome.DeadLetter.ID)
	if err != nil {
		t.Fatalf("retry dead letter: %v", err)
	}
	if entry.Operation != syncqueue.OperationCreate || entry.SyncAttempts != 0 {
		t.Fatalf("unexpected revived entry %+v", entry)
	}
	if letters, _ := env.queue.DeadLetters(ctx); len(letters) != 0 {
		t.Fatalf("expected dead letter removed, got %d", len(letters))
	}
	row, _, _ := env.db.Records().GetByID(ctx, t1)
	if row.Meta.SyncAttempts != 0 {
		t.Fatalf("expected row attempts reset, got %d", row.Meta.SyncAttempts)
	}

	if _, err := env.queue.RetryDeadLetter(ctx, outcome.DeadLetter.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second retry, got %v", err)
	}
}

func TestSyncQueue_RetryDeadLetter_MergesWithNewerUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, _ := env.queue.DequeueBatch(ctx, 5)
	outcome, _ := env.queue.MarkFailed(ctx, batch[0], remote.ErrValidation, false)

	// the create never reached the backend, so a later edit is queued as an update
	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationUpdate, newTestTeam("t1", "Hawks")); err != nil {
		t.Fatalf("enqueue update: %v", err)
	}

	entry, err := env.queue.RetryDeadLetter(ctx, outcome.DeadLetter.ID)
	if err != nil {
		t.Fatalf("retry dead letter: %v", err)
	}
	if entry.Operation != syncqueue.OperationCreate {
		t.Fatalf("expected merged entry to be a create, got %s", entry.Operation)
	}
	if got := decodePayload(t, entry.Payload)["name"]; got != "Hawks" {
		t.Fatalf("expected newer payload to win, got %v", got)
	}
}

func TestSyncQueue_DismissDeadLetter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	if err := env.queue.DismissDeadLetter(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	batch, _ := env.queue.DequeueBatch(ctx, 5)
	outcome, _ := env.queue.MarkFailed(ctx, batch[0], remote.ErrValidation, false)

	if err := env.queue.DismissDeadLetter(ctx, outcome.DeadLetter.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, ok, _ := env.db.Records().GetByID(ctx, t1); !ok {
		t.Fatalf("dismissing must keep the local row")
	}
}
