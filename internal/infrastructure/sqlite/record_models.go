package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/teamsync/internal/domain/match"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/team"
	"github.com/riskibarqy/teamsync/internal/domain/teamcode"
	"github.com/riskibarqy/teamsync/internal/domain/teammember"
	"github.com/riskibarqy/teamsync/internal/domain/tournament"
)

// SyncColumns are present on every entity table.
type SyncColumns struct {
	SyncAttempts      int           `db:"sync_attempts"`
	Deleted           bool          `db:"deleted"`
	LastSyncTimestamp sql.NullInt64 `db:"last_sync_timestamp"`
	CreatedAt         string        `db:"created_at"`
	UpdatedAt         string        `db:"updated_at"`
}

func (c SyncColumns) meta() record.Meta {
	m := record.Meta{SyncAttempts: c.SyncAttempts, Deleted: c.Deleted}
	if c.LastSyncTimestamp.Valid {
		v := c.LastSyncTimestamp.Int64
		m.LastSyncTimestamp = &v
	}
	return m
}

func (c SyncColumns) times() (time.Time, time.Time, error) {
	created, err := parseTime(c.CreatedAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	updated, err := parseTime(c.UpdatedAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return created, updated, nil
}

func newSyncColumns(createdAt time.Time, now time.Time) SyncColumns {
	if createdAt.IsZero() {
		createdAt = now
	}
	return SyncColumns{CreatedAt: formatTime(createdAt), UpdatedAt: formatTime(now)}
}

type teamTableModel struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Sport       string `db:"sport"`
	OwnerID     string `db:"owner_id"`
	Status      string `db:"status"`
	TeamCode    string `db:"team_code"`
	Players     string `db:"players"`
	SyncColumns
}

func teamToModel(t team.Team, now time.Time) (teamTableModel, error) {
	players := t.Players
	if players == nil {
		players = []string{}
	}
	raw, err := sonic.MarshalString(players)
	if err != nil {
		return teamTableModel{}, fmt.Errorf("encode team players: %w", err)
	}
	return teamTableModel{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Sport:       t.Sport,
		OwnerID:     t.OwnerID,
		Status:      t.Status,
		TeamCode:    t.JoinCode,
		Players:     raw,
		SyncColumns: newSyncColumns(t.CreatedAt, now),
	}, nil
}

func teamFromModel(m teamTableModel) (team.Team, error) {
	var players []string
	if m.Players != "" {
		if err := sonic.UnmarshalString(m.Players, &players); err != nil {
			return team.Team{}, fmt.Errorf("decode team %s players: %w", m.ID, err)
		}
	}
	created, updated, err := m.times()
	if err != nil {
		return team.Team{}, err
	}
	return team.Team{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Sport:       m.Sport,
		OwnerID:     m.OwnerID,
		Status:      m.Status,
		JoinCode:    m.TeamCode,
		Players:     players,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

type teamCodeTableModel struct {
	TeamID         string         `db:"team_id"`
	Code           string         `db:"code"`
	Status         string         `db:"status"`
	ExpirationDate sql.NullString `db:"expiration_date"`
	SyncColumns
}

func teamCodeToModel(c teamcode.TeamCode, now time.Time) (teamCodeTableModel, error) {
	return teamCodeTableModel{
		TeamID:         c.TeamID,
		Code:           teamcode.Normalize(c.Code),
		Status:         c.Status,
		ExpirationDate: formatNullTime(c.ExpirationDate),
		SyncColumns:    newSyncColumns(c.CreatedAt, now),
	}, nil
}

func teamCodeFromModel(m teamCodeTableModel) (teamcode.TeamCode, error) {
	expires, err := parseNullTime(m.ExpirationDate)
	if err != nil {
		return teamcode.TeamCode{}, err
	}
	created, updated, err := m.times()
	if err != nil {
		return teamcode.TeamCode{}, err
	}
	return teamcode.TeamCode{
		TeamID:         m.TeamID,
		Code:           m.Code,
		Status:         m.Status,
		ExpirationDate: expires,
		CreatedAt:      created,
		UpdatedAt:      updated,
	}, nil
}

type matchTableModel struct {
	ID           string         `db:"id"`
	TeamID       string         `db:"team_id"`
	TournamentID string         `db:"tournament_id"`
	Opponent     string         `db:"opponent"`
	ScheduledAt  string         `db:"scheduled_at"`
	Location     sql.NullString `db:"location"`
	Status       string         `db:"status"`
	HomeScore    sql.NullInt64  `db:"home_score"`
	AwayScore    sql.NullInt64  `db:"away_score"`
	Stats        sql.NullString `db:"stats"`
	SyncColumns
}

func matchToModel(m match.Match, now time.Time) (matchTableModel, error) {
	location, err := encodeNullJSON(m.Location, m.Location == nil)
	if err != nil {
		return matchTableModel{}, fmt.Errorf("encode match location: %w", err)
	}
	stats, err := encodeNullJSON(m.Stats, len(m.Stats) == 0)
	if err != nil {
		return matchTableModel{}, fmt.Errorf("encode match stats: %w", err)
	}
	return matchTableModel{
		ID:           m.ID,
		TeamID:       m.TeamID,
		TournamentID: m.TournamentID,
		Opponent:     m.Opponent,
		ScheduledAt:  formatTime(m.ScheduledAt),
		Location:     location,
		Status:       m.Status,
		HomeScore:    intToNull(m.HomeScore),
		AwayScore:    intToNull(m.AwayScore),
		Stats:        stats,
		SyncColumns:  newSyncColumns(m.CreatedAt, now),
	}, nil
}

func matchFromModel(m matchTableModel) (match.Match, error) {
	out := match.Match{
		ID:           m.ID,
		TeamID:       m.TeamID,
		TournamentID: m.TournamentID,
		Opponent:     m.Opponent,
		Status:       m.Status,
		HomeScore:    nullToInt(m.HomeScore),
		AwayScore:    nullToInt(m.AwayScore),
	}

	scheduled, err := parseTime(m.ScheduledAt)
	if err != nil {
		return match.Match{}, err
	}
	out.ScheduledAt = scheduled

	if m.Location.Valid {
		var loc match.Location
		if err := sonic.UnmarshalString(m.Location.String, &loc); err != nil {
			return match.Match{}, fmt.Errorf("decode match %s location: %w", m.ID, err)
		}
		out.Location = &loc
	}
	if m.Stats.Valid {
		if err := sonic.UnmarshalString(m.Stats.String, &out.Stats); err != nil {
			return match.Match{}, fmt.Errorf("decode match %s stats: %w", m.ID, err)
		}
	}

	out.CreatedAt, out.UpdatedAt, err = m.times()
	if err != nil {
		return match.Match{}, err
	}
	return out, nil
}

type tournamentTableModel struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Sport     string         `db:"sport"`
	OwnerID   string         `db:"owner_id"`
	StartDate string         `db:"start_date"`
	EndDate   sql.NullString `db:"end_date"`
	Status    string         `db:"status"`
	Teams     string         `db:"teams"`
	Location  sql.NullString `db:"location"`
	SyncColumns
}

func tournamentToModel(t tournament.Tournament, now time.Time) (tournamentTableModel, error) {
	teamIDs := t.TeamIDs
	if teamIDs == nil {
		teamIDs = []string{}
	}
	teams, err := sonic.MarshalString(teamIDs)
	if err != nil {
		return tournamentTableModel{}, fmt.Errorf("encode tournament teams: %w", err)
	}
	location, err := encodeNullJSON(t.Location, t.Location == nil)
	if err != nil {
		return tournamentTableModel{}, fmt.Errorf("encode tournament location: %w", err)
	}
	return tournamentTableModel{
		ID:          t.ID,
		Name:        t.Name,
		Sport:       t.Sport,
		OwnerID:     t.OwnerID,
		StartDate:   formatTime(t.StartDate),
		EndDate:     formatNullTime(t.EndDate),
		Status:      t.Status,
		Teams:       teams,
		Location:    location,
		SyncColumns: newSyncColumns(t.CreatedAt, now),
	}, nil
}

func tournamentFromModel(m tournamentTableModel) (tournament.Tournament, error) {
	out := tournament.Tournament{
		ID:      m.ID,
		Name:    m.Name,
		Sport:   m.Sport,
		OwnerID: m.OwnerID,
		Status:  m.Status,
	}

	var err error
	if out.StartDate, err = parseTime(m.StartDate); err != nil {
		return tournament.Tournament{}, err
	}
	if out.EndDate, err = parseNullTime(m.EndDate); err != nil {
		return tournament.Tournament{}, err
	}
	if m.Teams != "" {
		if err := sonic.UnmarshalString(m.Teams, &out.TeamIDs); err != nil {
			return tournament.Tournament{}, fmt.Errorf("decode tournament %s teams: %w", m.ID, err)
		}
	}
	if m.Location.Valid {
		var loc match.Location
		if err := sonic.UnmarshalString(m.Location.String, &loc); err != nil {
			return tournament.Tournament{}, fmt.Errorf("decode tournament %s location: %w", m.ID, err)
		}
		out.Location = &loc
	}

	out.CreatedAt, out.UpdatedAt, err = m.times()
	if err != nil {
		return tournament.Tournament{}, err
	}
	return out, nil
}

type teamMemberTableModel struct {
	ID       string `db:"id"`
	TeamID   string `db:"team_id"`
	UserID   string `db:"user_id"`
	Role     string `db:"role"`
	JoinedAt string `db:"joined_at"`
	SyncColumns
}

func teamMemberToModel(m teammember.TeamMember, now time.Time) (teamMemberTableModel, error) {
	joined := m.JoinedAt
	if joined.IsZero() {
		joined = now
	}
	return teamMemberTableModel{
		ID:          m.ID,
		TeamID:      m.TeamID,
		UserID:      m.UserID,
		Role:        m.Role,
		JoinedAt:    formatTime(joined),
		SyncColumns: newSyncColumns(m.CreatedAt, now),
	}, nil
}

func teamMemberFromModel(m teamMemberTableModel) (teammember.TeamMember, error) {
	joined, err := parseTime(m.JoinedAt)
	if err != nil {
		return teammember.TeamMember{}, err
	}
	created, updated, err := m.times()
	if err != nil {
		return teammember.TeamMember{}, err
	}
	return teammember.TeamMember{
		ID:        m.ID,
		TeamID:    m.TeamID,
		UserID:    m.UserID,
		Role:      m.Role,
		JoinedAt:  joined,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func encodeNullJSON(v any, isNull bool) (sql.NullString, error) {
	if isNull {
		return sql.NullString{}, nil
	}
	raw, err := sonic.MarshalString(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: raw, Valid: true}, nil
}

func intToNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullToInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	out := int(v.Int64)
	return &out
}
