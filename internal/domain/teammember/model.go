package teammember

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// TeamMember links a user to a team, usually after redeeming a join code.
type TeamMember struct {
	ID        string    `json:"id" validate:"required,max=64"`
	TeamID    string    `json:"team_id" validate:"required,max=64"`
	UserID    string    `json:"user_id" validate:"required,max=64"`
	Role      string    `json:"role" validate:"required,oneof=owner member"`
	JoinedAt  time.Time `json:"joined_at" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m TeamMember) RecordKey() record.Key {
	return record.Key{Type: record.TypeTeamMember, ID: m.ID}
}

func (m TeamMember) Validate() error {
	if strings.TrimSpace(m.TeamID) == "" || strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("team member requires team and user")
	}
	return nil
}
