package httpapi

import (
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/match"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/domain/team"
	"github.com/riskibarqy/teamsync/internal/usecase"
)

type createTeamRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Sport       string   `json:"sport" validate:"required,max=50"`
	OwnerID     string   `json:"owner_id" validate:"omitempty,max=64"`
	Players     []string `json:"players" validate:"omitempty,dive,required"`
}

type updateTeamRequest struct {
	Name        *string   `json:"name,omitempty" validate:"omitempty,max=100"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=500"`
	Sport       *string   `json:"sport,omitempty" validate:"omitempty,max=50"`
	Status      *string   `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	Players     *[]string `json:"players,omitempty"`
}

type regenerateJoinCodeRequest struct {
	ValidForHours int `json:"valid_for_hours" validate:"gte=0,lte=8760"`
}

type joinTeamRequest struct {
	Code   string `json:"code" validate:"required,min=4,max=12,alphanum"`
	UserID string `json:"user_id" validate:"omitempty,max=64"`
}

type triggerSyncRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=64"`
	Wait   bool   `json:"wait"`
}

type setConnectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

type createMatchRequest struct {
	TeamID       string          `json:"team_id" validate:"required,max=64"`
	TournamentID string          `json:"tournament_id" validate:"omitempty,max=64"`
	Opponent     string          `json:"opponent" validate:"required,max=120"`
	ScheduledAt  time.Time       `json:"scheduled_at" validate:"required"`
	Location     *match.Location `json:"location,omitempty"`
}

type recordScoreRequest struct {
	Home *int `json:"home" validate:"required,gte=0"`
	Away *int `json:"away" validate:"required,gte=0"`
}

type createTournamentRequest struct {
	Name      string          `json:"name" validate:"required,max=120"`
	Sport     string          `json:"sport" validate:"required,max=50"`
	OwnerID   string          `json:"owner_id" validate:"omitempty,max=64"`
	StartDate time.Time       `json:"start_date" validate:"required"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
	Location  *match.Location `json:"location,omitempty"`
}

type addTournamentTeamRequest struct {
	TeamID string `json:"team_id" validate:"required,max=64"`
}

type syncMetaDTO struct {
	SyncAttempts int        `json:"sync_attempts"`
	Deleted      bool       `json:"deleted"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

type teamDTO struct {
	team.Team
	Sync syncMetaDTO `json:"sync"`
}

type cycleReportDTO struct {
	Reason       string    `json:"reason"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Offline      bool      `json:"offline"`
	Dispatched   int       `json:"dispatched"`
	Succeeded    int       `json:"succeeded"`
	Retried      int       `json:"retried"`
	DeadLettered int       `json:"dead_lettered"`
	Stale        int       `json:"stale"`
	Abandoned    int       `json:"abandoned"`
	Resubmitted  int       `json:"resubmitted"`
	Busy         int       `json:"busy"`
	Errors       []string  `json:"errors,omitempty"`
}

type syncStatusDTO struct {
	State           string          `json:"state"`
	Running         bool            `json:"running"`
	Pending         int             `json:"pending"`
	DeadLetters     int             `json:"dead_letters"`
	Cycles          int64           `json:"cycles"`
	OfflineCycles   int64           `json:"offline_cycles"`
	SkippedTriggers int64           `json:"skipped_triggers"`
	Synced          int64           `json:"synced"`
	DeadLettered    int64           `json:"dead_lettered"`
	Resubmitted     int64           `json:"resubmitted"`
	DroppedEvents   int64           `json:"dropped_events"`
	RecentlySynced  []string        `json:"recently_synced"`
	LastCycle       *cycleReportDTO `json:"last_cycle,omitempty"`
}

type deadLetterDTO struct {
	ID           int64     `json:"id"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Operation    string    `json:"operation"`
	SyncAttempts int       `json:"sync_attempts"`
	ErrorKind    string    `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
	FailedAt     time.Time `json:"failed_at"`
}

type queueEntryDTO struct {
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Operation    string    `json:"operation"`
	SyncAttempts int       `json:"sync_attempts"`
	Revision     int64     `json:"revision"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

func toSyncMetaDTO(meta record.Meta) syncMetaDTO {
	out := syncMetaDTO{SyncAttempts: meta.SyncAttempts, Deleted: meta.Deleted}
	if at, ok := meta.LastSyncedAt(); ok {
		out.LastSyncedAt = &at
	}
	return out
}

func toTeamDTO(item team.Syncable) teamDTO {
	return teamDTO{Team: item.Team, Sync: toSyncMetaDTO(item.Meta)}
}

func toTeamDTOs(items []team.Syncable) []teamDTO {
	out := make([]teamDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toTeamDTO(item))
	}
	return out
}

func toCycleReportDTO(report *usecase.CycleReport) *cycleReportDTO {
	if report == nil {
		return nil
	}
	return &cycleReportDTO{
		Reason:       report.Reason,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Offline:      report.Offline,
		Dispatched:   report.Dispatched,
		Succeeded:    report.Succeeded,
		Retried:      report.Retried,
		DeadLettered: report.DeadLettered,
		Stale:        report.Stale,
		Abandoned:    report.Abandoned,
		Resubmitted:  report.Resubmitted,
		Busy:         report.Busy,
		Errors:       report.Errors,
	}
}

func toDeadLetterDTOs(items []syncqueue.DeadLetter) []deadLetterDTO {
	out := make([]deadLetterDTO, 0, len(items))
	for _, item := range items {
		out = append(out, deadLetterDTO{
			ID:           item.ID,
			EntityType:   string(item.Entry.EntityType),
			EntityID:     item.Entry.EntityID,
			Operation:    string(item.Entry.Operation),
			SyncAttempts: item.Entry.SyncAttempts,
			ErrorKind:    item.ErrorKind,
			ErrorMessage: item.ErrorMessage,
			FailedAt:     item.FailedAt,
		})
	}
	return out
}

func toQueueEntryDTO(entry syncqueue.Entry) queueEntryDTO {
	return queueEntryDTO{
		EntityType:   string(entry.EntityType),
		EntityID:     entry.EntityID,
		Operation:    string(entry.Operation),
		SyncAttempts: entry.SyncAttempts,
		Revision:     entry.Revision,
		EnqueuedAt:   entry.EnqueuedAt,
	}
}
