package remote

import (
	"errors"
	"testing"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

func TestCollectionFields_DropsLocalColumns(t *testing.T) {
	t.Parallel()

	c, err := CollectionFor(record.TypeTeam)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	fields, err := c.Fields([]byte(`{"id":"t1","name":"Eagles","sync_attempts":2,"deleted":false,"players":["p1"]}`))
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if _, ok := fields["sync_attempts"]; ok {
		t.Fatalf("sync bookkeeping must not be sent")
	}
	if fields["name"] != "Eagles" || len(fields) != 3 {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestCollectionFields_InvalidPayload(t *testing.T) {
	t.Parallel()

	c, _ := CollectionFor(record.TypeMatch)
	if _, err := c.Fields([]byte(`not json`)); KindOf(err) != KindValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestCollectionFor_Unknown(t *testing.T) {
	t.Parallel()

	if _, err := CollectionFor(record.Type("player")); !errors.Is(err, record.ErrUnknownType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
	if c, _ := CollectionFor(record.TypeTeamCode); c.PrimaryKey != "team_id" {
		t.Fatalf("team codes are keyed by team_id, got %s", c.PrimaryKey)
	}
}
