package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/domain/match"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/platform/id"
)

type CreateMatchInput struct {
	TeamID       string          `json:"team_id" validate:"required,max=64"`
	TournamentID string          `json:"tournament_id,omitempty" validate:"max=64"`
	Opponent     string          `json:"opponent" validate:"required,max=120"`
	ScheduledAt  time.Time       `json:"scheduled_at" validate:"required"`
	Location     *match.Location `json:"location,omitempty"`
}

type UpdateMatchInput struct {
	Opponent    *string             `json:"opponent,omitempty"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	Location    *match.Location     `json:"location,omitempty"`
	Status      *string             `json:"status,omitempty"`
	Stats       *map[string]float64 `json:"stats,omitempty"`
}

type MatchService struct {
	queue *SyncQueue
	store record.Store
	ids   id.Generator
	clock clockwork.Clock
}

func NewMatchService(queue *SyncQueue, store record.Store, ids id.Generator, clock clockwork.Clock) *MatchService {
	if ids == nil {
		ids = id.NewUUIDGenerator()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MatchService{queue: queue, store: store, ids: ids, clock: clock}
}

func (s *MatchService) CreateMatch(ctx context.Context, input CreateMatchInput) (match.Match, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchService.CreateMatch")
	defer span.End()

	teamID := strings.TrimSpace(input.TeamID)
	if err := s.requireLive(ctx, record.Key{Type: record.TypeTeam, ID: teamID}); err != nil {
		return match.Match{}, err
	}
	tournamentID := strings.TrimSpace(input.TournamentID)
	if tournamentID != "" {
		if err := s.requireLive(ctx, record.Key{Type: record.TypeTournament, ID: tournamentID}); err != nil {
			return match.Match{}, err
		}
	}

	matchID, err := s.ids.NewID()
	if err != nil {
		return match.Match{}, fmt.Errorf("generate match id: %w", err)
	}
	now := s.clock.Now().UTC()
	item := match.Match{
		ID:           matchID,
		TeamID:       teamID,
		TournamentID: tournamentID,
		Opponent:     strings.TrimSpace(input.Opponent),
		ScheduledAt:  input.ScheduledAt.UTC(),
		Location:     input.Location,
		Status:       match.StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.enqueue(ctx, syncqueue.OperationCreate, item)
}

func (s *MatchService) GetMatch(ctx context.Context, matchID string) (match.Match, error) {
	key := record.Key{Type: record.TypeMatch, ID: strings.TrimSpace(matchID)}
	if key.ID == "" {
		return match.Match{}, fmt.Errorf("%w: match id is required", ErrInvalidInput)
	}
	row, ok, err := s.store.GetByID(ctx, key)
	if err != nil {
		return match.Match{}, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok || row.Meta.Deleted {
		return match.Match{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rowMatch(row)
}

// ListMatchesByTeam returns the team's matches in kickoff order.
func (s *MatchService) ListMatchesByTeam(ctx context.Context, teamID string) ([]match.Match, error) {
	query := record.Where("team_id", strings.TrimSpace(teamID))
	query.OrderBy = "scheduled_at"
	rows, err := s.store.GetAll(ctx, record.TypeMatch, query)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}

	out := make([]match.Match, 0, len(rows))
	for _, row := range rows {
		item, err := rowMatch(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *MatchService) UpdateMatch(ctx context.Context, matchID string, input UpdateMatchInput) (match.Match, error) {
	item, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if input.Opponent != nil {
		item.Opponent = strings.TrimSpace(*input.Opponent)
	}
	if input.ScheduledAt != nil {
		item.ScheduledAt = input.ScheduledAt.UTC()
	}
	if input.Location != nil {
		item.Location = input.Location
	}
	if input.Status != nil {
		item.Status = strings.ToLower(strings.TrimSpace(*input.Status))
	}
	if input.Stats != nil {
		item.Stats = *input.Stats
	}
	return s.enqueue(ctx, syncqueue.OperationUpdate, item)
}

// RecordScore sets the final score and completes the match.
func (s *MatchService) RecordScore(ctx context.Context, matchID string, home, away int) (match.Match, error) {
	if home < 0 || away < 0 {
		return match.Match{}, fmt.Errorf("%w: scores must not be negative", ErrInvalidInput)
	}
	item, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if item.Status == match.StatusCancelled {
		return match.Match{}, fmt.Errorf("%w: match %s was cancelled", ErrInvalidInput, item.ID)
	}
	item.HomeScore = &home
	item.AwayScore = &away
	item.Status = match.StatusCompleted
	return s.enqueue(ctx, syncqueue.OperationUpdate, item)
}

func (s *MatchService) DeleteMatch(ctx context.Context, matchID string) error {
	item, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, syncqueue.OperationDelete, item)
	return err
}

func (s *MatchService) enqueue(ctx context.Context, op syncqueue.Operation, item match.Match) (match.Match, error) {
	res, err := s.queue.Enqueue(ctx, op, item)
	if err != nil {
		return match.Match{}, err
	}
	return rowMatch(res.Row)
}

func (s *MatchService) requireLive(ctx context.Context, key record.Key) error {
	if key.ID == "" {
		return fmt.Errorf("%w: %s id is required", ErrInvalidInput, key.Type)
	}
	row, ok, err := s.store.GetByID(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if !ok || row.Meta.Deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

func rowMatch(row record.Row) (match.Match, error) {
	item, ok := record.As[match.Match](row)
	if !ok {
		return match.Match{}, fmt.Errorf("row %s is not a match", row.Key())
	}
	return item, nil
}
