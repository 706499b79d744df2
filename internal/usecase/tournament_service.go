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
	"github.com/riskibarqy/teamsync/internal/domain/tournament"
	"github.com/riskibarqy/teamsync/internal/platform/id"
)

type CreateTournamentInput struct {
	Name      string          `json:"name" validate:"required,max=120"`
	Sport     string          `json:"sport" validate:"required,max=50"`
	OwnerID   string          `json:"owner_id" validate:"required,max=64"`
	StartDate time.Time       `json:"start_date" validate:"required"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
	Location  *match.Location `json:"location,omitempty"`
}

type UpdateTournamentInput struct {
	Name      *string         `json:"name,omitempty"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
	Status    *string         `json:"status,omitempty"`
	Location  *match.Location `json:"location,omitempty"`
}

type TournamentService struct {
	queue *SyncQueue
	store record.Store
	ids   id.Generator
	clock clockwork.Clock
}

func NewTournamentService(queue *SyncQueue, store record.Store, ids id.Generator, clock clockwork.Clock) *TournamentService {
	if ids == nil {
		ids = id.NewUUIDGenerator()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TournamentService{queue: queue, store: store, ids: ids, clock: clock}
}

func (s *TournamentService) CreateTournament(ctx context.Context, input CreateTournamentInput) (tournament.Tournament, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.TournamentService.CreateTournament")
	defer span.End()

	tournamentID, err := s.ids.NewID()
	if err != nil {
		return tournament.Tournament{}, fmt.Errorf("generate tournament id: %w", err)
	}

	now := s.clock.Now().UTC()
	item := tournament.Tournament{
		ID:        tournamentID,
		Name:      strings.TrimSpace(input.Name),
		Sport:     strings.TrimSpace(input.Sport),
		OwnerID:   strings.TrimSpace(input.OwnerID),
		StartDate: input.StartDate.UTC(),
		EndDate:   utcPtr(input.EndDate),
		Status:    tournament.StatusUpcoming,
		TeamIDs:   []string{},
		Location:  input.Location,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.enqueue(ctx, syncqueue.OperationCreate, item)
}

func (s *TournamentService) GetTournament(ctx context.Context, tournamentID string) (tournament.Tournament, error) {
	key := record.Key{Type: record.TypeTournament, ID: strings.TrimSpace(tournamentID)}
	if key.ID == "" {
		return tournament.Tournament{}, fmt.Errorf("%w: tournament id is required", ErrInvalidInput)
	}
	row, ok, err := s.store.GetByID(ctx, key)
	if err != nil {
		return tournament.Tournament{}, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok || row.Meta.Deleted {
		return tournament.Tournament{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rowTournament(row)
}

// ListTournaments returns live tournaments by start date. An empty ownerID lists all.
func (s *TournamentService) ListTournaments(ctx context.Context, ownerID string) ([]tournament.Tournament, error) {
	var query record.Query
	if ownerID = strings.TrimSpace(ownerID); ownerID != "" {
		query = record.Where("owner_id", ownerID)
	}
	query.OrderBy = "start_date"

	rows, err := s.store.GetAll(ctx, record.TypeTournament, query)
	if err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	out := make([]tournament.Tournament, 0, len(rows))
	for _, row := range rows {
		item, err := rowTournament(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *TournamentService) UpdateTournament(ctx context.Context, tournamentID string, input UpdateTournamentInput) (tournament.Tournament, error) {
	item, err := s.GetTournament(ctx, tournamentID)
	if err != nil {
		return tournament.Tournament{}, err
	}
	if input.Name != nil {
		item.Name = strings.TrimSpace(*input.Name)
	}
	if input.StartDate != nil {
		item.StartDate = input.StartDate.UTC()
	}
	if input.EndDate != nil {
		item.EndDate = utcPtr(input.EndDate)
	}
	if input.Status != nil {
		item.Status = strings.ToLower(strings.TrimSpace(*input.Status))
	}
	if input.Location != nil {
		item.Location = input.Location
	}
	return s.enqueue(ctx, syncqueue.OperationUpdate, item)
}

// AddTeam enters a live team into the tournament. Entering twice is a no-op.
func (s *TournamentService) AddTeam(ctx context.Context, tournamentID, teamID string) (tournament.Tournament, error) {
	item, err := s.GetTournament(ctx, tournamentID)
	if err != nil {
		return tournament.Tournament{}, err
	}

	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return tournament.Tournament{}, fmt.Errorf("%w: team id is required", ErrInvalidInput)
	}
	teamKey := record.Key{Type: record.TypeTeam, ID: teamID}
	row, ok, err := s.store.GetByID(ctx, teamKey)
	if err != nil {
		return tournament.Tournament{}, fmt.Errorf("get %s: %w", teamKey, err)
	}
	if !ok || row.Meta.Deleted {
		return tournament.Tournament{}, fmt.Errorf("%w: %s", ErrNotFound, teamKey)
	}
	if item.HasTeam(teamID) {
		return item, nil
	}

	item.TeamIDs = append(append([]string(nil), item.TeamIDs...), teamID)
	return s.enqueue(ctx, syncqueue.OperationUpdate, item)
}

func (s *TournamentService) DeleteTournament(ctx context.Context, tournamentID string) error {
	item, err := s.GetTournament(ctx, tournamentID)
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, syncqueue.OperationDelete, item)
	return err
}

func (s *TournamentService) enqueue(ctx context.Context, op syncqueue.Operation, item tournament.Tournament) (tournament.Tournament, error) {
	res, err := s.queue.Enqueue(ctx, op, item)
	if err != nil {
		return tournament.Tournament{}, err
	}
	return rowTournament(res.Row)
}

func rowTournament(row record.Row) (tournament.Tournament, error) {
	item, ok := record.As[tournament.Tournament](row)
	if !ok {
		return tournament.Tournament{}, fmt.Errorf("row %s is not a tournament", row.Key())
	}
	return item, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
