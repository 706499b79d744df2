package teamcode

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

const (
	StatusActive  = "active"
	StatusUsed    = "used"
	StatusExpired = "expired"
)

// TeamCode is the shareable join code of a team. One row per team, so a team
// never holds two active codes.
type TeamCode struct {
	TeamID         string     `json:"team_id" validate:"required,max=64"`
	Code           string     `json:"code" validate:"required,min=4,max=12,alphanum"`
	Status         string     `json:"status" validate:"required,oneof=active used expired"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (c TeamCode) RecordKey() record.Key {
	return record.Key{Type: record.TypeTeamCode, ID: c.TeamID}
}

func (c TeamCode) Validate() error {
	if strings.TrimSpace(c.TeamID) == "" {
		return fmt.Errorf("team code team id is required")
	}
	if c.ExpirationDate != nil && !c.CreatedAt.IsZero() && !c.ExpirationDate.After(c.CreatedAt) {
		return fmt.Errorf("team code expiration must be after creation")
	}
	return nil
}

// Usable reports whether the code still admits new members at now.
func (c TeamCode) Usable(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	return c.ExpirationDate == nil || c.ExpirationDate.After(now)
}

// Normalize upper-cases user input so lookups are case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
