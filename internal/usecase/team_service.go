package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/riskibarqy/teamsync/internal/domain/team"
	"github.com/riskibarqy/teamsync/internal/domain/teamcode"
	"github.com/riskibarqy/teamsync/internal/domain/teammember"
	"github.com/riskibarqy/teamsync/internal/platform/id"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
)

const (
	maxJoinCodeAttempts = 5
	joinCodeRPCTimeout  = 3 * time.Second
)

type CreateTeamInput struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Sport       string   `json:"sport" validate:"required,max=50"`
	OwnerID     string   `json:"owner_id" validate:"required,max=64"`
	Players     []string `json:"players" validate:"dive,required"`
}

// UpdateTeamInput only touches the fields that are set.
type UpdateTeamInput struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Sport       *string   `json:"sport,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Players     *[]string `json:"players,omitempty"`
}

type TeamService struct {
	queue   *SyncQueue
	store   record.Store
	gateway remote.Gateway
	ids     id.Generator
	codes   id.CodeGenerator
	clock   clockwork.Clock
	logger  *logging.Logger
}

func NewTeamService(
	queue *SyncQueue,
	store record.Store,
	gateway remote.Gateway,
	ids id.Generator,
	codes id.CodeGenerator,
	clock clockwork.Clock,
	logger *logging.Logger,
) *TeamService {
	if ids == nil {
		ids = id.NewUUIDGenerator()
	}
	if codes == nil {
		codes = id.NewRandomCodeGenerator(id.DefaultCodeLength)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TeamService{
		queue:   queue,
		store:   store,
		gateway: gateway,
		ids:     ids,
		codes:   codes,
		clock:   clock,
		logger:  logger.Named("team"),
	}
}

func (s *TeamService) CreateTeam(ctx context.Context, input CreateTeamInput) (team.Team, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.TeamService.CreateTeam")
	defer span.End()

	teamID, err := s.ids.NewID()
	if err != nil {
		return team.Team{}, fmt.Errorf("generate team id: %w", err)
	}
	code, err := s.newJoinCode(ctx, teamID)
	if err != nil {
		return team.Team{}, err
	}

	now := s.clock.Now().UTC()
	item := team.Team{
		ID:          teamID,
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		Sport:       strings.TrimSpace(input.Sport),
		OwnerID:     strings.TrimSpace(input.OwnerID),
		Status:      team.StatusActive,
		JoinCode:    code,
		Players:     normalizeIDs(input.Players),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	mirror := teamcode.TeamCode{
		TeamID:    teamID,
		Code:      code,
		Status:    teamcode.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := s.queue.Enqueue(ctx, syncqueue.OperationCreate, item, WithLocalMirror(mirror))
	if err != nil {
		return team.Team{}, err
	}
	return rowTeam(res.Row)
}

func (s *TeamService) GetTeam(ctx context.Context, teamID string) (team.Syncable, error) {
	row, err := s.liveRow(ctx, record.Key{Type: record.TypeTeam, ID: strings.TrimSpace(teamID)})
	if err != nil {
		return team.Syncable{}, err
	}
	return team.SyncableFromRow(row)
}

// ListTeams returns live teams newest first. An empty ownerID lists every team.
func (s *TeamService) ListTeams(ctx context.Context, ownerID string) ([]team.Syncable, error) {
	var query record.Query
	if ownerID = strings.TrimSpace(ownerID); ownerID != "" {
		query = record.Where("owner_id", ownerID)
	}
	rows, err := s.store.GetAll(ctx, record.TypeTeam, query)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	out := make([]team.Syncable, 0, len(rows))
	for _, row := range rows {
		item, err := team.SyncableFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *TeamService) UpdateTeam(ctx context.Context, teamID string, input UpdateTeamInput) (team.Team, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.TeamService.UpdateTeam")
	defer span.End()

	current, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return team.Team{}, err
	}

	item := current.Team
	if input.Name != nil {
		item.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		item.Description = strings.TrimSpace(*input.Description)
	}
	if input.Sport != nil {
		item.Sport = strings.TrimSpace(*input.Sport)
	}
	if input.Status != nil {
		item.Status = strings.ToLower(strings.TrimSpace(*input.Status))
	}
	if input.Players != nil {
		item.Players = normalizeIDs(*input.Players)
	}
	return s.enqueueTeamUpdate(ctx, item)
}

func (s *TeamService) DeleteTeam(ctx context.Context, teamID string) error {
	current, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, syncqueue.OperationDelete, current.Team)
	return err
}

func (s *TeamService) AddPlayer(ctx context.Context, teamID, playerID string) (team.Team, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return team.Team{}, fmt.Errorf("%w: player id is required", ErrInvalidInput)
	}

	current, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return team.Team{}, err
	}
	if current.HasPlayer(playerID) {
		return current.Team, nil
	}

	item := current.Team
	item.Players = append(append([]string(nil), item.Players...), playerID)
	return s.enqueueTeamUpdate(ctx, item)
}

func (s *TeamService) RemovePlayer(ctx context.Context, teamID, playerID string) (team.Team, error) {
	current, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return team.Team{}, err
	}
	playerID = strings.TrimSpace(playerID)
	if !current.HasPlayer(playerID) {
		return team.Team{}, fmt.Errorf("%w: player %s is not on team %s", ErrNotFound, playerID, current.ID)
	}

	item := current.Team
	players := make([]string, 0, len(item.Players))
	for _, p := range item.Players {
		if p != playerID {
			players = append(players, p)
		}
	}
	item.Players = players
	return s.enqueueTeamUpdate(ctx, item)
}

// RegenerateJoinCode issues a fresh code for the team. validFor of zero means
// the code never expires. Regenerating again before a sync leaves a single
// pending team update carrying the latest code.
func (s *TeamService) RegenerateJoinCode(ctx context.Context, teamID string, validFor time.Duration) (teamcode.TeamCode, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.TeamService.RegenerateJoinCode")
	defer span.End()

	current, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return teamcode.TeamCode{}, err
	}
	if validFor < 0 {
		return teamcode.TeamCode{}, fmt.Errorf("%w: code validity must not be negative", ErrInvalidInput)
	}

	code, err := s.newJoinCode(ctx, current.ID)
	if err != nil {
		return teamcode.TeamCode{}, err
	}

	item := current.Team
	item.JoinCode = code
	mirror := s.activeCode(current.ID, code, validFor)
	if _, err := s.queue.Enqueue(ctx, syncqueue.OperationUpdate, item, WithLocalMirror(mirror)); err != nil {
		return teamcode.TeamCode{}, err
	}

	s.logger.InfoContext(ctx, "join code regenerated", "team_id", current.ID)
	return mirror, nil
}

// ExpireJoinCode stops the current code from admitting new members.
func (s *TeamService) ExpireJoinCode(ctx context.Context, teamID string) error {
	current, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if current.JoinCode == "" {
		return fmt.Errorf("%w: team %s has no join code", ErrNotFound, current.ID)
	}

	now := s.clock.Now().UTC()
	mirror := teamcode.TeamCode{
		TeamID:    current.ID,
		Code:      current.JoinCode,
		Status:    teamcode.StatusExpired,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if row, ok, err := s.store.GetByID(ctx, mirror.RecordKey()); err != nil {
		return err
	} else if ok {
		if existing, isCode := record.As[teamcode.TeamCode](row); isCode {
			mirror = existing
			mirror.Status = teamcode.StatusExpired
		}
	}

	item := current.Team
	item.JoinCode = ""
	_, err = s.queue.Enqueue(ctx, syncqueue.OperationUpdate, item, WithLocalMirror(mirror))
	return err
}

// JoinTeam redeems a join code for userID.
func (s *TeamService) JoinTeam(ctx context.Context, code, userID string) (teammember.TeamMember, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.TeamService.JoinTeam")
	defer span.End()

	code = teamcode.Normalize(code)
	userID = strings.TrimSpace(userID)
	if code == "" || userID == "" {
		return teammember.TeamMember{}, fmt.Errorf("%w: code and user id are required", ErrInvalidInput)
	}

	rows, err := s.store.GetAll(ctx, record.TypeTeamCode, record.Where("code", code))
	if err != nil {
		return teammember.TeamMember{}, fmt.Errorf("lookup join code: %w", err)
	}
	if len(rows) == 0 {
		return teammember.TeamMember{}, fmt.Errorf("%w: join code %s", ErrNotFound, code)
	}

	now := s.clock.Now().UTC()
	var redeemed *teamcode.TeamCode
	for _, row := range rows {
		if c, ok := record.As[teamcode.TeamCode](row); ok && c.Usable(now) {
			redeemed = &c
			break
		}
	}
	if redeemed == nil {
		return teammember.TeamMember{}, fmt.Errorf("%w: join code %s is expired or used", ErrInvalidInput, code)
	}

	owner, err := s.GetTeam(ctx, redeemed.TeamID)
	if err != nil {
		return teammember.TeamMember{}, err
	}
	if owner.Status != team.StatusActive {
		return teammember.TeamMember{}, fmt.Errorf("%w: team %s is not accepting members", ErrInvalidInput, owner.ID)
	}

	existing, err := s.store.GetAll(ctx, record.TypeTeamMember, record.Query{
		Equals: []record.Eq{{Field: "team_id", Value: owner.ID}, {Field: "user_id", Value: userID}},
		Limit:  1,
	})
	if err != nil {
		return teammember.TeamMember{}, fmt.Errorf("lookup membership: %w", err)
	}
	if len(existing) > 0 {
		return teammember.TeamMember{}, fmt.Errorf("%w: user %s already belongs to team %s", ErrConflict, userID, owner.ID)
	}

	memberID, err := s.ids.NewID()
	if err != nil {
		return teammember.TeamMember{}, fmt.Errorf("generate member id: %w", err)
	}
	member := teammember.TeamMember{
		ID:        memberID,
		TeamID:    owner.ID,
		UserID:    userID,
		Role:      teammember.RoleMember,
		JoinedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if owner.OwnerID == userID {
		member.Role = teammember.RoleOwner
	}

	res, err := s.queue.Enqueue(ctx, syncqueue.OperationCreate, member)
	if err != nil {
		return teammember.TeamMember{}, err
	}
	joined, ok := record.As[teammember.TeamMember](res.Row)
	if !ok {
		return teammember.TeamMember{}, fmt.Errorf("row %s is not a team member", res.Row.Key())
	}
	return joined, nil
}

// ListMembers returns the members of a team in join order.
func (s *TeamService) ListMembers(ctx context.Context, teamID string) ([]teammember.TeamMember, error) {
	owner, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.GetAll(ctx, record.TypeTeamMember, record.Query{
		Equals:  []record.Eq{{Field: "team_id", Value: owner.ID}},
		OrderBy: "joined_at",
	})
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}

	out := make([]teammember.TeamMember, 0, len(rows))
	for _, row := range rows {
		if m, ok := record.As[teammember.TeamMember](row); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Recompute resolves a conflicting team write by issuing a new join code and
// resubmitting the team with the original operation.
func (s *TeamService) Recompute(ctx context.Context, dl syncqueue.DeadLetter) error {
	ctx, span := startUsecaseSpan(ctx, "usecase.TeamService.Recompute")
	defer span.End()

	if dl.Entry.EntityType != record.TypeTeam || dl.Entry.Operation == syncqueue.OperationDelete {
		return ErrRecomputeUnsupported
	}

	current, err := s.GetTeam(ctx, dl.Entry.EntityID)
	if err != nil {
		return err
	}
	code, err := s.newJoinCode(ctx, current.ID)
	if err != nil {
		return err
	}

	item := current.Team
	item.JoinCode = code
	if _, err := s.queue.Resubmit(ctx, dl.ID, item, WithLocalMirror(s.activeCode(current.ID, code, 0))); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "conflicting team resubmitted with a new join code",
		"team_id", current.ID,
		"operation", dl.Entry.Operation,
	)
	return nil
}

func (s *TeamService) enqueueTeamUpdate(ctx context.Context, item team.Team) (team.Team, error) {
	res, err := s.queue.Enqueue(ctx, syncqueue.OperationUpdate, item)
	if err != nil {
		return team.Team{}, err
	}
	return rowTeam(res.Row)
}

func (s *TeamService) activeCode(teamID, code string, validFor time.Duration) teamcode.TeamCode {
	now := s.clock.Now().UTC()
	c := teamcode.TeamCode{
		TeamID:    teamID,
		Code:      code,
		Status:    teamcode.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if validFor > 0 {
		expires := now.Add(validFor)
		c.ExpirationDate = &expires
	}
	return c
}

func (s *TeamService) liveRow(ctx context.Context, key record.Key) (record.Row, error) {
	if key.ID == "" {
		return record.Row{}, fmt.Errorf("%w: %s id is required", ErrInvalidInput, key.Type)
	}
	row, ok, err := s.store.GetByID(ctx, key)
	if err != nil {
		return record.Row{}, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok || row.Meta.Deleted {
		return record.Row{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return row, nil
}

// newJoinCode prefers a backend-issued code and falls back to a local one
// when the backend is unreachable. Either way the code must be free locally.
func (s *TeamService) newJoinCode(ctx context.Context, teamID string) (string, error) {
	for attempt := 0; attempt < maxJoinCodeAttempts; attempt++ {
		code := ""
		if attempt == 0 {
			code = s.remoteJoinCode(ctx, teamID)
		}
		if code == "" {
			local, err := s.codes.NewCode()
			if err != nil {
				return "", fmt.Errorf("generate join code: %w", err)
			}
			code = local
		}
		code = teamcode.Normalize(code)

		taken, err := s.joinCodeTaken(ctx, code, teamID)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: no free join code after %d attempts", ErrConflict, maxJoinCodeAttempts)
}

func (s *TeamService) remoteJoinCode(ctx context.Context, teamID string) string {
	if s.gateway == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, joinCodeRPCTimeout)
	defer cancel()

	code, err := s.gateway.GenerateTeamCode(callCtx, teamID)
	if err != nil {
		s.logger.DebugContext(ctx, "remote join code unavailable, generating locally",
			"team_id", teamID,
			"kind", string(remote.KindOf(err)),
			"error", err,
		)
		return ""
	}
	code = teamcode.Normalize(code)
	if len(code) < 4 || len(code) > 12 || !isAlphanumeric(code) {
		s.logger.WarnContext(ctx, "remote join code rejected", "team_id", teamID, "code", code)
		return ""
	}
	return code
}

func (s *TeamService) joinCodeTaken(ctx context.Context, code, teamID string) (bool, error) {
	teams, err := s.store.GetAll(ctx, record.TypeTeam, record.Where("team_code", code))
	if err != nil {
		return false, fmt.Errorf("lookup join code: %w", err)
	}
	for _, row := range teams {
		if row.Key().ID != teamID {
			return true, nil
		}
	}

	codes, err := s.store.GetAll(ctx, record.TypeTeamCode, record.Where("code", code))
	if err != nil {
		return false, fmt.Errorf("lookup join code: %w", err)
	}
	for _, row := range codes {
		c, ok := record.As[teamcode.TeamCode](row)
		if ok && c.TeamID != teamID && c.Status == teamcode.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func rowTeam(row record.Row) (team.Team, error) {
	item, ok := record.As[team.Team](row)
	if !ok {
		return team.Team{}, fmt.Errorf("row %s is not a team", row.Key())
	}
	return item, nil
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
