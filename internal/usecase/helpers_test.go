package usecase

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/domain/team"
	"github.com/riskibarqy/teamsync/internal/infrastructure/sqlite"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	db    *sqlite.DB
	clock *clockwork.FakeClock
	queue *SyncQueue
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testEpoch)
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), sqlite.WithClock(clock))
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return testEnv{
		db:    db,
		clock: clock,
		queue: NewSyncQueue(db, SyncQueueConfig{}, clock, logging.NewNop()),
	}
}

func newTestTeam(id, name string) team.Team {
	return team.Team{
		ID:      id,
		Name:    name,
		Sport:   "football",
		OwnerID: "u1",
		Status:  team.StatusActive,
	}
}

func decodePayload(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	out, err := syncqueue.DecodePayload(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return out
}

type switchConnectivity struct {
	online atomic.Bool
}

func newSwitchConnectivity(online bool) *switchConnectivity {
	c := &switchConnectivity{}
	c.online.Store(online)
	return c
}

func (c *switchConnectivity) Online(context.Context) bool {
	return c.online.Load()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
