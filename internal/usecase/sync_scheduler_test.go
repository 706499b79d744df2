package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/domain/team"
	remotemock "github.com/riskibarqy/teamsync/internal/mocks/domain/remote"
	usecasemock "github.com/riskibarqy/teamsync/internal/mocks/usecase"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(env testEnv, gateway remote.Gateway, conn ConnectivityChecker, cfg SchedulerConfig, opts ...SchedulerOption) *SyncScheduler {
	opts = append([]SchedulerOption{
		WithSchedulerClock(env.clock),
		WithSchedulerLogger(logging.NewNop()),
	}, opts...)
	return NewSyncScheduler(env.queue, gateway, conn, cfg, opts...)
}

func noCooldown() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.Cooldown = 0
	return cfg
}

func TestSyncScheduler_OfflineCreateSyncsWhenOnline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	conn := newSwitchConnectivity(false)
	scheduler := newTestScheduler(env, gateway, conn, noCooldown())

	events, cancel := scheduler.Subscribe(4)
	defer cancel()

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("offline cycle: %v", err)
	}
	if !report.Offline || report.Dispatched != 0 {
		t.Fatalf("expected offline cycle to skip dispatch, got %+v", report)
	}

	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.MatchedBy(func(p []byte) bool {
			return decodePayload(t, p)["id"] == "t1"
		})).
		Return(remote.Row{"id": "t1"}, nil).
		Once()

	conn.online.Store(true)
	report, err = scheduler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("online cycle: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected one synced entry, got %+v", report)
	}

	pending, _ := env.queue.Pending(ctx)
	require.Zero(t, pending)

	row, ok, err := env.db.Records().GetByID(ctx, t1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, row.Meta.Synced())
	require.Equal(t, []record.Key{t1}, scheduler.RecentlySynced())

	select {
	case ev := <-events:
		if ev.Kind != SyncEventSynced || ev.Key != t1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected a synced event")
	}
}

func TestSyncScheduler_RetriesExactlyMaxAttemptsThenDeadLetters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	scheduler := newTestScheduler(env, gateway, nil, noCooldown())

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	// first dispatch plus DefaultMaxAttempts retries
	dispatches := DefaultMaxAttempts + 1
	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Return(nil, remote.Errorf(remote.KindNetwork, "connection reset")).
		Times(dispatches)

	cycles := dispatches + 2
	for i := 0; i < cycles; i++ {
		if _, err := scheduler.RunOnce(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	gateway.AssertNumberOfCalls(t, "Create", dispatches)
	letters, err := env.queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, dispatches, letters[0].Entry.SyncAttempts)

	stats := scheduler.Stats()
	if stats.DeadLettered != 1 || stats.Cycles != int64(cycles) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSyncScheduler_ValidationFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	scheduler := newTestScheduler(env, gateway, nil, noCooldown())

	events, cancel := scheduler.Subscribe(4)
	defer cancel()

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Return(nil, remote.Errorf(remote.KindValidation, "sport is not supported")).
		Once()

	report, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeadLettered)

	ev := <-events
	if ev.Kind != SyncEventDeadLettered || ev.DeadLetter == nil || ev.DeadLetter.ErrorKind != string(remote.KindValidation) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, ok, _ := env.db.Records().GetByID(ctx, t1); !ok {
		t.Fatalf("local row must be kept after a permanent failure")
	}

	report, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Dispatched)
}

func TestSyncScheduler_RejectsOverlappingCycles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	scheduler := newTestScheduler(env, gateway, nil, noCooldown())

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(remote.Row{}, nil).
		Once()

	done := make(chan CycleReport, 1)
	go func() {
		report, _ := scheduler.RunOnce(ctx)
		done <- report
	}()

	<-started
	if scheduler.State() != StateDraining {
		t.Fatalf("expected draining state, got %s", scheduler.State())
	}
	if _, err := scheduler.RunOnce(ctx); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected ErrCycleInFlight, got %v", err)
	}

	close(release)
	report := <-done
	if report.Succeeded != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if scheduler.State() != StateIdle {
		t.Fatalf("expected idle after cycle, got %s", scheduler.State())
	}
}

func TestSyncScheduler_CooldownBlocksUntilElapsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	cfg := DefaultSchedulerConfig()
	scheduler := newTestScheduler(env, remotemock.NewGateway(t), nil, cfg)

	if _, err := scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if scheduler.State() != StateWaiting {
		t.Fatalf("expected waiting state, got %s", scheduler.State())
	}
	if _, err := scheduler.RunOnce(ctx); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected cycle to be refused during cooldown, got %v", err)
	}

	env.clock.Advance(cfg.Cooldown)
	waitFor(t, "idle state", func() bool { return scheduler.State() == StateIdle })
}

func TestSyncScheduler_TimeoutCountsAsNetworkFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	cfg := noCooldown()
	cfg.CallTimeout = 20 * time.Millisecond
	scheduler := newTestScheduler(env, gateway, nil, cfg)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).
		Once()

	report, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retried)

	entry, ok, err := env.queue.Get(ctx, t1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, entry.SyncAttempts)
}

type panickingGateway struct {
	remote.Gateway
}

func (panickingGateway) Create(context.Context, record.Type, []byte) (remote.Row, error) {
	panic("decoder exploded")
}

func TestSyncScheduler_PanicIsCapturedAsUnknown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	scheduler := newTestScheduler(env, panickingGateway{}, nil, noCooldown())

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	report, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeadLettered)

	letter, ok, err := env.queue.DeadLetterFor(ctx, t1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, string(remote.KindUnknown), letter.ErrorKind)
}

func TestSyncScheduler_DeleteOfMissingRemoteRowSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	scheduler := newTestScheduler(env, gateway, nil, noCooldown())

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	gateway.On("Create", mock.Anything, record.TypeTeam, mock.Anything).Return(remote.Row{}, nil).Once()
	if _, err := scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("sync create: %v", err)
	}

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationDelete, team.Team{ID: "t1"}); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	gateway.On("Delete", mock.Anything, record.TypeTeam, "t1").Return(remote.ErrNotFound).Once()

	report, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	if _, ok, _ := env.db.Records().GetByID(ctx, t1); ok {
		t.Fatalf("expected row purged")
	}
}

func TestSyncScheduler_ConflictAsksResolver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	resolver := usecasemock.NewConflictResolver(t)
	scheduler := newTestScheduler(env, gateway, nil, noCooldown(), WithConflictResolver(resolver))

	events, cancel := scheduler.Subscribe(4)
	defer cancel()

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Return(nil, remote.Errorf(remote.KindConflict, "duplicate key")).
		Once()
	resolver.
		On("Recompute", mock.Anything, mock.MatchedBy(func(dl syncqueue.DeadLetter) bool {
			return dl.Entry.Key() == t1 && dl.ErrorKind == string(remote.KindConflict)
		})).
		Return(nil).
		Once()

	report, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeadLettered)
	require.Equal(t, 1, report.Resubmitted)

	kinds := []SyncEventKind{(<-events).Kind, (<-events).Kind}
	require.Equal(t, []SyncEventKind{SyncEventDeadLettered, SyncEventResubmitted}, kinds)
}

func TestSyncScheduler_StartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	scheduler := newTestScheduler(env, gateway, nil, noCooldown())

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	gateway.On("Create", mock.Anything, record.TypeTeam, mock.Anything).Return(remote.Row{}, nil).Once()

	events, cancel := scheduler.Subscribe(1)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := scheduler.Start(ctx); !errors.Is(err, ErrSchedulerRunning) {
		t.Fatalf("expected ErrSchedulerRunning, got %v", err)
	}

	select {
	case ev := <-events:
		require.Equal(t, SyncEventSynced, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatalf("startup cycle did not sync")
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, 2*time.Second)
	defer stopCancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if scheduler.Trigger("after-stop") {
		t.Fatalf("trigger must be refused once stopped")
	}
	if scheduler.Stats().Running {
		t.Fatalf("expected scheduler to report stopped")
	}
}

func TestSyncScheduler_IntervalTickDuringDrainIsSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	cfg := noCooldown()
	scheduler := newTestScheduler(env, gateway, nil, cfg)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(remote.Row{}, nil).
		Once()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	env.clock.Advance(cfg.Interval + time.Second)
	waitFor(t, "skipped interval tick", func() bool { return scheduler.Stats().SkippedTriggers >= 1 })
	if scheduler.State() != StateDraining {
		t.Fatalf("expected startup drain to continue, got %s", scheduler.State())
	}

	close(release)
	waitFor(t, "startup drain", func() bool { return scheduler.Stats().Synced == 1 })

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(stopCtx))

	gateway.AssertNumberOfCalls(t, "Create", 1)
	require.EqualValues(t, 1, scheduler.Stats().Cycles)
}

func TestSyncScheduler_UnfinishedCallHoldsEntity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	cfg := noCooldown()
	cfg.CallTimeout = 20 * time.Millisecond
	scheduler := newTestScheduler(env, gateway, nil, cfg)

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	release := make(chan struct{})
	gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(remote.Row{}, nil).
		Once()

	report, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retried)
	require.True(t, scheduler.isBusy(t1))

	report, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Dispatched)
	require.Equal(t, 1, report.Busy)

	entry, ok, err := env.queue.Get(ctx, t1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, entry.SyncAttempts)

	close(release)
	waitFor(t, "abandoned call to return", func() bool { return !scheduler.isBusy(t1) })

	gateway.On("Create", mock.Anything, record.TypeTeam, mock.Anything).Return(remote.Row{}, nil).Once()
	report, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	gateway.AssertNumberOfCalls(t, "Create", 2)
}

func TestSyncScheduler_ReconnectDuringCooldownIsReplayed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env := newTestEnv(t)
	gateway := remotemock.NewGateway(t)
	cfg := DefaultSchedulerConfig()
	scheduler := newTestScheduler(env, gateway, nil, cfg)

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = scheduler.Stop(context.Background()) }()

	// interval ticker plus the cooldown timer of the empty startup cycle
	require.NoError(t, env.clock.BlockUntilContext(ctx, 2))
	waitFor(t, "cooldown", func() bool { return scheduler.State() == StateWaiting })

	if _, err := env.queue.Enqueue(ctx, syncqueue.OperationCreate, newTestTeam("t1", "Eagles")); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	gateway.On("Create", mock.Anything, record.TypeTeam, mock.Anything).Return(remote.Row{}, nil).Once()

	if scheduler.Trigger(ReasonReconnect) {
		t.Fatalf("trigger must be refused during cooldown")
	}
	if scheduler.Trigger("interval") {
		t.Fatalf("trigger must be refused during cooldown")
	}

	env.clock.Advance(cfg.Cooldown)
	waitFor(t, "replayed reconnect drain", func() bool { return scheduler.Stats().Cycles == 2 })

	stats := scheduler.Stats()
	require.NotNil(t, stats.LastCycle)
	require.Equal(t, ReasonReconnect, stats.LastCycle.Reason)
	require.Equal(t, 1, stats.LastCycle.Succeeded)
	require.EqualValues(t, 1, stats.Synced)
}

func TestSyncScheduler_RecentlySyncedIsBounded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	cfg := noCooldown()
	cfg.RecentCapacity = 2
	scheduler := newTestScheduler(env, remotemock.NewGateway(t), nil, cfg)

	for _, id := range []string{"a", "b", "c"} {
		scheduler.addRecent(record.Key{Type: record.TypeTeam, ID: id})
	}
	got := scheduler.RecentlySynced()
	want := []record.Key{{Type: record.TypeTeam, ID: "c"}, {Type: record.TypeTeam, ID: "b"}}
	require.Equal(t, want, got)
}

func TestFailurePolicy_Evaluate(t *testing.T) {
	t.Parallel()

	create := syncqueue.Entry{Operation: syncqueue.OperationCreate}
	del := syncqueue.Entry{Operation: syncqueue.OperationDelete}
	var policy FailurePolicy

	cases := []struct {
		name  string
		entry syncqueue.Entry
		err   error
		want  Decision
	}{
		{"success", create, nil, Decision{Succeeded: true}},
		{"network", create, remote.ErrNetwork, Decision{Retryable: true, Class: FailureClassNetwork, Kind: remote.KindNetwork}},
		{"timeout", create, context.DeadlineExceeded, Decision{Retryable: true, Class: FailureClassNetwork, Kind: remote.KindNetwork}},
		{"validation", create, remote.ErrValidation, Decision{Class: FailureClassValidation, Kind: remote.KindValidation}},
		{"conflict", create, remote.ErrConflict, Decision{Class: FailureClassConflict, Kind: remote.KindConflict, Recompute: true}},
		{"unauthorized", create, remote.ErrUnauthorized, Decision{Class: FailureClassPermanent, Kind: remote.KindUnauthorized}},
		{"not found", create, remote.ErrNotFound, Decision{Class: FailureClassPermanent, Kind: remote.KindNotFound}},
		{"delete not found", del, remote.ErrNotFound, Decision{Succeeded: true, Kind: remote.KindNotFound}},
		{"unknown", create, errors.New("weird"), Decision{Class: FailureClassPermanent, Kind: remote.KindUnknown}},
	}
	for _, tc := range cases {
		if got := policy.Evaluate(tc.entry, tc.err); got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}
