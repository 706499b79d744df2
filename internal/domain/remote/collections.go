package remote

import (
	"fmt"

	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
)

// Collection describes the backend table an entity type maps to.
type Collection struct {
	Name       string
	PrimaryKey string
	// Columns lists the fields the backend accepts. Local sync bookkeeping
	// never leaves the device.
	Columns []string
}

var collections = map[record.Type]Collection{
	record.TypeTeam: {
		Name:       "teams",
		PrimaryKey: "id",
		Columns:    []string{"id", "name", "description", "sport", "owner_id", "status", "team_code", "players", "created_at", "updated_at"},
	},
	record.TypeTeamCode: {
		Name:       "team_codes",
		PrimaryKey: "team_id",
		Columns:    []string{"team_id", "code", "status", "expiration_date", "created_at", "updated_at"},
	},
	record.TypeMatch: {
		Name:       "matches",
		PrimaryKey: "id",
		Columns: []string{
			"id", "team_id", "tournament_id", "opponent", "scheduled_at", "location",
			"status", "home_score", "away_score", "stats", "created_at", "updated_at",
		},
	},
	record.TypeTournament: {
		Name:       "tournaments",
		PrimaryKey: "id",
		Columns: []string{
			"id", "name", "sport", "owner_id", "start_date", "end_date",
			"status", "teams", "location", "created_at", "updated_at",
		},
	},
	record.TypeTeamMember: {
		Name:       "team_members",
		PrimaryKey: "id",
		Columns:    []string{"id", "team_id", "user_id", "role", "joined_at", "created_at", "updated_at"},
	},
}

func CollectionFor(t record.Type) (Collection, error) {
	c, ok := collections[t]
	if !ok {
		return Collection{}, fmt.Errorf("%w: %q", record.ErrUnknownType, t)
	}
	return c, nil
}

func (c Collection) allows(column string) bool {
	for _, col := range c.Columns {
		if col == column {
			return true
		}
	}
	return false
}

// Fields decodes a queued payload and keeps only the columns the backend accepts.
func (c Collection) Fields(payload []byte) (map[string]any, error) {
	raw, err := syncqueue.DecodePayload(payload)
	if err != nil {
		return nil, Mark(fmt.Errorf("decode %s payload: %w", c.Name, err), KindValidation)
	}

	out := make(map[string]any, len(raw))
	for key, value := range raw {
		if c.allows(key) {
			out[key] = value
		}
	}
	return out, nil
}
