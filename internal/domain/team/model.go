package team

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusDeleted  = "deleted"
)

// Team is the root entity a user creates and shares through its join code.
type Team struct {
	ID          string    `json:"id" validate:"required,max=64"`
	Name        string    `json:"name" validate:"required,max=100"`
	Description string    `json:"description" validate:"max=500"`
	Sport       string    `json:"sport" validate:"required,max=50"`
	OwnerID     string    `json:"owner_id" validate:"required,max=64"`
	Status      string    `json:"status" validate:"required,oneof=active inactive deleted"`
	JoinCode    string    `json:"team_code" validate:"omitempty,min=4,max=12,alphanum"`
	Players     []string  `json:"players" validate:"dive,required"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t Team) RecordKey() record.Key {
	return record.Key{Type: record.TypeTeam, ID: t.ID}
}

func (t Team) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("team id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("team name is required")
	}

	seen := make(map[string]struct{}, len(t.Players))
	for _, playerID := range t.Players {
		if _, ok := seen[playerID]; ok {
			return fmt.Errorf("player %s is listed twice", playerID)
		}
		seen[playerID] = struct{}{}
	}

	return nil
}

func (t Team) HasPlayer(playerID string) bool {
	for _, id := range t.Players {
		if id == playerID {
			return true
		}
	}
	return false
}

// Syncable is a team together with its local sync bookkeeping.
type Syncable struct {
	Team
	record.Meta
}

func SyncableFromRow(row record.Row) (Syncable, error) {
	t, ok := record.As[Team](row)
	if !ok {
		return Syncable{}, fmt.Errorf("row %s is not a team", row.Key())
	}
	return Syncable{Team: t, Meta: row.Meta}, nil
}
