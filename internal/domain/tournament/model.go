package tournament

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/match"
	"github.com/riskibarqy/teamsync/internal/domain/record"
)

const (
	StatusUpcoming  = "upcoming"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Tournament struct {
	ID        string          `json:"id" validate:"required,max=64"`
	Name      string          `json:"name" validate:"required,max=120"`
	Sport     string          `json:"sport" validate:"required,max=50"`
	OwnerID   string          `json:"owner_id" validate:"required,max=64"`
	StartDate time.Time       `json:"start_date" validate:"required"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
	Status    string          `json:"status" validate:"required,oneof=upcoming ongoing completed cancelled"`
	TeamIDs   []string        `json:"teams" validate:"dive,required"`
	Location  *match.Location `json:"location,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (t Tournament) RecordKey() record.Key {
	return record.Key{Type: record.TypeTournament, ID: t.ID}
}

func (t Tournament) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("tournament id is required")
	}
	if t.EndDate != nil && t.EndDate.Before(t.StartDate) {
		return fmt.Errorf("tournament %s ends before it starts", t.ID)
	}

	seen := make(map[string]struct{}, len(t.TeamIDs))
	for _, teamID := range t.TeamIDs {
		if _, ok := seen[teamID]; ok {
			return fmt.Errorf("team %s entered twice", teamID)
		}
		seen[teamID] = struct{}{}
	}
	return nil
}

func (t Tournament) HasTeam(teamID string) bool {
	for _, id := range t.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}
