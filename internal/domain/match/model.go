package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

const (
	StatusScheduled = "scheduled"
	StatusLive      = "live"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Location is stored as nested JSON on matches and tournaments.
type Location struct {
	Name      string   `json:"name" validate:"max=200"`
	Address   string   `json:"address,omitempty" validate:"max=300"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
}

// Match is one fixture played by a team, optionally inside a tournament.
type Match struct {
	ID           string             `json:"id" validate:"required,max=64"`
	TeamID       string             `json:"team_id" validate:"required,max=64"`
	TournamentID string             `json:"tournament_id,omitempty" validate:"max=64"`
	Opponent     string             `json:"opponent" validate:"required,max=120"`
	ScheduledAt  time.Time          `json:"scheduled_at" validate:"required"`
	Location     *Location          `json:"location,omitempty"`
	Status       string             `json:"status" validate:"required,oneof=scheduled live completed cancelled"`
	HomeScore    *int               `json:"home_score,omitempty" validate:"omitempty,gte=0"`
	AwayScore    *int               `json:"away_score,omitempty" validate:"omitempty,gte=0"`
	Stats        map[string]float64 `json:"stats,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (m Match) RecordKey() record.Key {
	return record.Key{Type: record.TypeMatch, ID: m.ID}
}

func (m Match) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("match id is required")
	}
	if m.Status == StatusCompleted && (m.HomeScore == nil || m.AwayScore == nil) {
		return fmt.Errorf("completed match %s requires both scores", m.ID)
	}
	return nil
}
