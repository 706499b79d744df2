package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) (*DB, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testEpoch)
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), WithClock(clock))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, clock
}
