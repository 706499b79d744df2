package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/sourcegraph/conc/panics"
)

type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateDraining
	StateWaiting
)

// ReasonReconnect is the trigger reason used when connectivity comes back. A
// reconnect that arrives mid-cycle is replayed once the scheduler is idle.
const ReasonReconnect = "reconnect"

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

type SchedulerConfig struct {
	Interval    time.Duration
	BatchSize   int
	CallTimeout time.Duration
	// Cooldown keeps the scheduler in Waiting after a cycle. Zero disables it.
	Cooldown       time.Duration
	Workers        int
	RecentCapacity int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:       30 * time.Second,
		BatchSize:      5,
		CallTimeout:    12 * time.Second,
		Cooldown:       time.Second,
		Workers:        1,
		RecentCapacity: 50,
	}
}

func (c SchedulerConfig) normalize() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.RecentCapacity <= 0 {
		c.RecentCapacity = def.RecentCapacity
	}
	return c
}

// ConnectivityChecker reports whether the backend is worth trying right now.
type ConnectivityChecker interface {
	Online(ctx context.Context) bool
}

type SyncEventKind string

const (
	SyncEventSynced       SyncEventKind = "synced"
	SyncEventDeadLettered SyncEventKind = "dead_lettered"
	SyncEventResubmitted  SyncEventKind = "resubmitted"
)

type SyncEvent struct {
	Kind       SyncEventKind
	Key        record.Key
	Operation  syncqueue.Operation
	Attempts   int
	DeadLetter *syncqueue.DeadLetter
	Error      string
	At         time.Time
}

// CycleReport summarises one drain. Storage errors are collected in Errors
// rather than aborting the batch.
type CycleReport struct {
	Reason       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Offline      bool
	Dispatched   int
	Succeeded    int
	Retried      int
	DeadLettered int
	Stale        int
	Abandoned    int
	Resubmitted  int
	// Busy counts entries left queued because an earlier call for them has not returned.
	Busy   int
	Errors []string
}

type SchedulerStats struct {
	State           SchedulerState
	Running         bool
	Cycles          int64
	OfflineCycles   int64
	SkippedTriggers int64
	Synced          int64
	DeadLettered    int64
	Resubmitted     int64
	DroppedEvents   int64
	LastCycle       *CycleReport
}

type SchedulerOption func(*SyncScheduler)

func WithConflictResolver(resolver ConflictResolver) SchedulerOption {
	return func(s *SyncScheduler) {
		s.resolver = resolver
	}
}

func WithSchedulerClock(clock clockwork.Clock) SchedulerOption {
	return func(s *SyncScheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithSchedulerLogger(logger *logging.Logger) SchedulerOption {
	return func(s *SyncScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SyncScheduler drains the queue into the gateway. At most one cycle runs at
// a time; triggers that arrive while a cycle is draining or cooling down are
// dropped, not queued.
type SyncScheduler struct {
	queue        *SyncQueue
	gateway      remote.Gateway
	connectivity ConnectivityChecker
	resolver     ConflictResolver
	policy       FailurePolicy
	cfg          SchedulerConfig
	clock        clockwork.Clock
	logger       *logging.Logger

	state            atomic.Int32
	reconnectPending atomic.Bool

	runMu   sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cooldownMu sync.Mutex
	cooldown   clockwork.Timer

	// keys whose gateway call outlived its deadline and has not returned yet
	busyMu sync.Mutex
	busy   map[record.Key]struct{}

	statsMu sync.Mutex
	stats   SchedulerStats

	recentMu   sync.Mutex
	recent     []record.Key
	recentNext int
	recentLen  int

	subMu   sync.Mutex
	subs    map[int]chan SyncEvent
	nextSub int
}

func NewSyncScheduler(
	queue *SyncQueue,
	gateway remote.Gateway,
	connectivity ConnectivityChecker,
	cfg SchedulerConfig,
	opts ...SchedulerOption,
) *SyncScheduler {
	cfg = cfg.normalize()
	s := &SyncScheduler{
		queue:        queue,
		gateway:      gateway,
		connectivity: connectivity,
		cfg:          cfg,
		clock:        clockwork.NewRealClock(),
		logger:       logging.Default(),
		recent:       make([]record.Key, cfg.RecentCapacity),
		subs:         make(map[int]chan SyncEvent),
		busy:         make(map[record.Key]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	return s
}

func (s *SyncScheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Start launches the interval loop. The first cycle runs immediately.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.baseCtx = loopCtx
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("sync scheduler started",
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize,
		"workers", s.cfg.Workers,
	)
	return nil
}

func (s *SyncScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Trigger("startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Trigger("interval")
		}
	}
}

// Stop cancels the loop and any in-flight cycle, then waits for them until ctx expires.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.runMu.Unlock()

	cancel()

	s.cooldownMu.Lock()
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
	s.cooldownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.state.CompareAndSwap(int32(StateWaiting), int32(StateIdle))
		s.logger.Info("sync scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop sync scheduler: %w", ctx.Err())
	}
}

// Trigger asks for a drain now. It reports false when the scheduler is not
// running or a cycle is already draining or cooling down.
func (s *SyncScheduler) Trigger(reason string) bool {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return false
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		s.runMu.Unlock()
		s.statsMu.Lock()
		s.stats.SkippedTriggers++
		s.statsMu.Unlock()
		s.logger.Debug("sync trigger skipped", "reason", reason, "state", s.State().String())
		if reason == ReasonReconnect {
			s.reconnectPending.Store(true)
			// the cycle may have gone idle between the CAS and the store
			if s.State() == StateIdle {
				s.replayReconnect()
			}
		}
		return false
	}
	ctx := s.baseCtx
	s.wg.Add(1)
	s.runMu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runCycle(ctx, reason)
	}()
	return true
}

// RunOnce drains one batch synchronously.
func (s *SyncScheduler) RunOnce(ctx context.Context) (CycleReport, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		return CycleReport{}, ErrCycleInFlight
	}
	return s.runCycle(ctx, "manual"), nil
}

func (s *SyncScheduler) runCycle(ctx context.Context, reason string) CycleReport {
	ctx, span := startUsecaseSpan(ctx, "usecase.SyncScheduler.runCycle")
	defer span.End()

	report := CycleReport{Reason: reason, StartedAt: s.clock.Now().UTC()}
	defer func() {
		report.FinishedAt = s.clock.Now().UTC()
		s.recordCycle(report)
		s.finishCycle()
	}()

	if s.connectivity != nil && !s.connectivity.Online(ctx) {
		report.Offline = true
		s.logger.DebugContext(ctx, "sync cycle skipped, backend unreachable", "reason", reason)
		return report
	}

	entries, err := s.queue.DequeueBatch(ctx, s.cfg.BatchSize)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		s.logger.ErrorContext(ctx, "dequeue sync batch failed", "error", err)
		return report
	}
	entries = s.skipBusy(ctx, entries, &report)
	if len(entries) == 0 {
		return report
	}

	pool, err := ants.NewPool(min(s.cfg.Workers, len(entries)))
	if err != nil {
		for _, entry := range entries {
			s.queue.ReleaseLease(entry.Key())
		}
		report.Errors = append(report.Errors, fmt.Sprintf("create dispatch pool: %v", err))
		return report
	}
	defer pool.Release()

	results := make([]entryOutcome, len(entries))
	var workers sync.WaitGroup
	for i, entry := range entries {
		workers.Add(1)
		if err := pool.Submit(func() {
			defer workers.Done()
			results[i] = s.settle(ctx, entry, s.dispatch(ctx, entry))
		}); err != nil {
			workers.Done()
			s.queue.ReleaseLease(entry.Key())
			results[i] = entryOutcome{storeErr: fmt.Errorf("submit %s: %w", entry.Key(), err)}
		}
	}
	workers.Wait()

	for _, res := range results {
		report.add(res)
	}
	s.logger.InfoContext(ctx, "sync cycle finished",
		"reason", reason,
		"dispatched", report.Dispatched,
		"succeeded", report.Succeeded,
		"retried", report.Retried,
		"dead_lettered", report.DeadLettered,
	)
	return report
}

func (s *SyncScheduler) finishCycle() {
	if s.cfg.Cooldown <= 0 {
		s.state.Store(int32(StateIdle))
		s.replayReconnect()
		return
	}

	s.state.Store(int32(StateWaiting))
	s.cooldownMu.Lock()
	s.cooldown = s.clock.AfterFunc(s.cfg.Cooldown, func() {
		if s.state.CompareAndSwap(int32(StateWaiting), int32(StateIdle)) {
			s.replayReconnect()
		}
	})
	s.cooldownMu.Unlock()
}

// replayReconnect runs the drain a reconnect asked for while the scheduler was busy.
func (s *SyncScheduler) replayReconnect() {
	if s.reconnectPending.Swap(false) {
		s.Trigger(ReasonReconnect)
	}
}

// skipBusy leaves entries whose previous call is still running in the queue.
func (s *SyncScheduler) skipBusy(ctx context.Context, entries []syncqueue.Entry, report *CycleReport) []syncqueue.Entry {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if len(s.busy) == 0 {
		return entries
	}

	ready := entries[:0]
	for _, entry := range entries {
		key := entry.Key()
		if _, ok := s.busy[key]; ok {
			s.queue.ReleaseLease(key)
			report.Busy++
			s.logger.DebugContext(ctx, "sync entry held by unfinished call", "entity", key.String())
			continue
		}
		ready = append(ready, entry)
	}
	return ready
}

func (s *SyncScheduler) isBusy(key record.Key) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	_, ok := s.busy[key]
	return ok
}

// dispatch sends one entry with its own deadline. A gateway that ignores
// ctx is abandoned when the deadline passes, and the entity stays out of
// later cycles until that call returns.
func (s *SyncScheduler) dispatch(ctx context.Context, entry syncqueue.Entry) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	key := entry.Key()
	s.busyMu.Lock()
	s.busy[key] = struct{}{}
	s.busyMu.Unlock()

	done := make(chan error, 1)
	go func() {
		var pc panics.Catcher
		var err error
		pc.Try(func() {
			err = s.send(callCtx, entry)
		})
		if recovered := pc.Recovered(); recovered != nil {
			err = remote.Mark(recovered.AsError(), remote.KindUnknown)
		}
		s.busyMu.Lock()
		delete(s.busy, key)
		s.busyMu.Unlock()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && remote.KindOf(err) != remote.KindNetwork {
			err = remote.Mark(err, remote.KindNetwork)
		}
		return err
	case <-callCtx.Done():
		s.logger.WarnContext(ctx, "gateway call outlived its deadline", "entity", key.String())
		return remote.Mark(crerr.Wrapf(callCtx.Err(), "dispatch %s", key), remote.KindNetwork)
	}
}

func (s *SyncScheduler) send(ctx context.Context, entry syncqueue.Entry) error {
	switch entry.Operation {
	case syncqueue.OperationCreate:
		_, err := s.gateway.Create(ctx, entry.EntityType, entry.Payload)
		return err
	case syncqueue.OperationUpdate:
		_, err := s.gateway.Update(ctx, entry.EntityType, entry.EntityID, entry.Payload)
		return err
	case syncqueue.OperationDelete:
		return s.gateway.Delete(ctx, entry.EntityType, entry.EntityID)
	default:
		return remote.Errorf(remote.KindValidation, "unknown sync operation %q", entry.Operation)
	}
}

type entryOutcome struct {
	dispatched   bool
	succeeded    bool
	retried      bool
	deadLettered bool
	stale        bool
	abandoned    bool
	resubmitted  bool
	storeErr     error
}

func (r *CycleReport) add(res entryOutcome) {
	if res.dispatched {
		r.Dispatched++
	}
	switch {
	case res.succeeded:
		r.Succeeded++
	case res.deadLettered:
		r.DeadLettered++
	case res.retried:
		r.Retried++
	case res.stale:
		r.Stale++
	case res.abandoned:
		r.Abandoned++
	}
	if res.resubmitted {
		r.Resubmitted++
	}
	if res.storeErr != nil {
		r.Errors = append(r.Errors, res.storeErr.Error())
	}
}

func (s *SyncScheduler) settle(ctx context.Context, entry syncqueue.Entry, callErr error) entryOutcome {
	out := entryOutcome{dispatched: true}
	key := entry.Key()
	decision := s.policy.Evaluate(entry, callErr)

	if decision.Succeeded {
		at := s.clock.Now().UTC()
		if err := s.queue.MarkSucceeded(context.WithoutCancel(ctx), entry, at); err != nil {
			out.storeErr = fmt.Errorf("mark %s succeeded: %w", key, err)
			s.logger.ErrorContext(ctx, "mark sync success failed", "entity", key.String(), "error", err)
			return out
		}
		out.succeeded = true
		s.addRecent(key)
		s.statsMu.Lock()
		s.stats.Synced++
		s.statsMu.Unlock()
		s.emit(SyncEvent{Kind: SyncEventSynced, Key: key, Operation: entry.Operation, Attempts: entry.SyncAttempts + 1, At: at})
		return out
	}

	// shutting down: the failure says nothing about the backend
	if ctx.Err() != nil {
		s.queue.ReleaseLease(key)
		out.abandoned = true
		return out
	}

	failure, err := s.queue.MarkFailed(ctx, entry, callErr, decision.Retryable)
	if err != nil {
		out.storeErr = fmt.Errorf("mark %s failed: %w", key, err)
		s.logger.ErrorContext(ctx, "mark sync failure failed", "entity", key.String(), "error", err)
		return out
	}

	switch {
	case failure.Stale:
		out.stale = true
		return out
	case !failure.DeadLettered:
		out.retried = true
		s.logger.WarnContext(ctx, "sync dispatch failed, will retry",
			"entity", key.String(),
			"attempts", failure.Attempts,
			"class", string(decision.Class),
			"error", callErr,
		)
		return out
	}

	out.deadLettered = true
	letter := failure.DeadLetter
	s.statsMu.Lock()
	s.stats.DeadLettered++
	s.statsMu.Unlock()
	s.emit(SyncEvent{
		Kind:       SyncEventDeadLettered,
		Key:        key,
		Operation:  entry.Operation,
		Attempts:   failure.Attempts,
		DeadLetter: &letter,
		Error:      callErr.Error(),
		At:         letter.FailedAt,
	})

	if decision.Recompute && s.resolver != nil {
		out.resubmitted = s.recompute(ctx, letter)
	}
	return out
}

func (s *SyncScheduler) recompute(ctx context.Context, letter syncqueue.DeadLetter) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	key := letter.Entry.Key()
	if err := s.resolver.Recompute(callCtx, letter); err != nil {
		if !errors.Is(err, ErrRecomputeUnsupported) {
			s.logger.WarnContext(ctx, "conflict recompute failed", "entity", key.String(), "error", err)
		}
		return false
	}

	s.statsMu.Lock()
	s.stats.Resubmitted++
	s.statsMu.Unlock()
	s.emit(SyncEvent{Kind: SyncEventResubmitted, Key: key, Operation: letter.Entry.Operation, At: s.clock.Now().UTC()})
	return true
}

func (s *SyncScheduler) recordCycle(report CycleReport) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Cycles++
	if report.Offline {
		s.stats.OfflineCycles++
	}
	s.stats.LastCycle = &report
}

func (s *SyncScheduler) Stats() SchedulerStats {
	s.statsMu.Lock()
	stats := s.stats
	if stats.LastCycle != nil {
		last := *stats.LastCycle
		last.Errors = append([]string(nil), last.Errors...)
		stats.LastCycle = &last
	}
	s.statsMu.Unlock()

	s.runMu.Lock()
	stats.Running = s.running
	s.runMu.Unlock()
	stats.State = s.State()
	return stats
}

func (s *SyncScheduler) addRecent(key record.Key) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.recent[s.recentNext] = key
	s.recentNext = (s.recentNext + 1) % len(s.recent)
	if s.recentLen < len(s.recent) {
		s.recentLen++
	}
}

// RecentlySynced lists the last synced keys, newest first.
func (s *SyncScheduler) RecentlySynced() []record.Key {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	out := make([]record.Key, 0, s.recentLen)
	for i := 1; i <= s.recentLen; i++ {
		idx := (s.recentNext - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}
	return out
}

// Subscribe registers an observer. Slow subscribers miss events instead of
// blocking the drain. The returned func unsubscribes and closes the channel.
func (s *SyncScheduler) Subscribe(buffer int) (<-chan SyncEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan SyncEvent, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
}

func (s *SyncScheduler) emit(ev SyncEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.statsMu.Lock()
			s.stats.DroppedEvents++
			s.statsMu.Unlock()
		}
	}
}
