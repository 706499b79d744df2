package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	sonic "github.com/bytedance/sonic"
	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/infrastructure/network"
	"github.com/riskibarqy/teamsync/internal/infrastructure/sqlite"
	remotemock "github.com/riskibarqy/teamsync/internal/mocks/domain/remote"
	"github.com/riskibarqy/teamsync/internal/platform/id"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/riskibarqy/teamsync/internal/usecase"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	router  http.Handler
	gateway *remotemock.Gateway
	queue   *usecase.SyncQueue
	probe   *network.ManualProbe
}

func newAPIEnv(t *testing.T, token string) apiEnv {
	t.Helper()

	clock := clockwork.NewFakeClock()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), sqlite.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logging.NewNop()
	gateway := remotemock.NewGateway(t)
	probe := network.NewManualProbe(true)
	queue := usecase.NewSyncQueue(db, usecase.SyncQueueConfig{}, clock, logger)
	ids := id.NewUUIDGenerator()

	teams := usecase.NewTeamService(queue, db.Records(), gateway, ids, id.NewRandomCodeGenerator(0), clock, logger)
	matches := usecase.NewMatchService(queue, db.Records(), ids, clock)
	tournaments := usecase.NewTournamentService(queue, db.Records(), ids, clock)

	cfg := usecase.DefaultSchedulerConfig()
	cfg.Cooldown = 0
	scheduler := usecase.NewSyncScheduler(queue, gateway, probe, cfg,
		usecase.WithConflictResolver(teams),
		usecase.WithSchedulerClock(clock),
		usecase.WithSchedulerLogger(logger),
	)

	handler := NewHandler(teams, matches, tournaments, queue, scheduler, probe, logger)
	return apiEnv{
		router:  NewRouter(handler, logger, []string{"*"}, token),
		gateway: gateway,
		queue:   queue,
		probe:   probe,
	}
}

func (e apiEnv) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var envelope map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &envelope), "body: %s", rec.Body.String())
	return rec, envelope
}

func dataObject(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok, "expected data object, got %v", envelope)
	return data
}

func errorStatus(envelope map[string]any) string {
	errObj, _ := envelope["error"].(map[string]any)
	status, _ := errObj["status"].(string)
	return status
}

func (e apiEnv) createTeam(t *testing.T) string {
	t.Helper()

	e.gateway.On("GenerateTeamCode", mock.Anything, mock.Anything).Return("JOIN42", nil).Once()
	rec, envelope := e.do(t, http.MethodPost, "/v1/teams", `{"name":"Eagles","sport":"football"}`, userHeader, "u1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := dataObject(t, envelope)
	require.Equal(t, "u1", data["owner_id"])
	require.Equal(t, "JOIN42", data["team_code"])
	return data["id"].(string)
}

func TestHandler_Healthz(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	rec, envelope := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "idle", dataObject(t, envelope)["scheduler"])
}

func TestHandler_CreateTeamQueuesAndSyncs(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	teamID := env.createTeam(t)

	rec, envelope := env.do(t, http.MethodGet, "/v1/teams/"+teamID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	sync := dataObject(t, envelope)["sync"].(map[string]any)
	require.Nil(t, sync["last_synced_at"])

	_, envelope = env.do(t, http.MethodGet, "/v1/sync/status", "")
	require.EqualValues(t, 1, dataObject(t, envelope)["pending"])

	env.gateway.On("Create", mock.Anything, record.TypeTeam, mock.Anything).Return(remote.Row{"id": teamID}, nil).Once()
	rec, envelope = env.do(t, http.MethodPost, "/v1/sync/trigger", `{"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 1, dataObject(t, envelope)["succeeded"])

	_, envelope = env.do(t, http.MethodGet, "/v1/sync/status", "")
	status := dataObject(t, envelope)
	require.EqualValues(t, 0, status["pending"])
	require.Equal(t, []any{"team/" + teamID}, status["recently_synced"])

	_, envelope = env.do(t, http.MethodGet, "/v1/teams?owner_id=u1", "")
	teams, ok := envelope["data"].([]any)
	require.True(t, ok)
	require.Len(t, teams, 1)
	require.NotNil(t, teams[0].(map[string]any)["sync"].(map[string]any)["last_synced_at"])
}

func TestHandler_DeadLetterRetryAndDismiss(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	env.createTeam(t)

	env.gateway.
		On("Create", mock.Anything, record.TypeTeam, mock.Anything).
		Return(nil, remote.Errorf(remote.KindValidation, "sport is not supported")).
		Once()
	rec, envelope := env.do(t, http.MethodPost, "/v1/sync/trigger", `{"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, dataObject(t, envelope)["dead_lettered"])

	_, envelope = env.do(t, http.MethodGet, "/v1/sync/dead-letters", "")
	letters := envelope["data"].([]any)
	require.Len(t, letters, 1)
	letter := letters[0].(map[string]any)
	require.Equal(t, "validation", letter["error_kind"])
	require.Equal(t, "create", letter["operation"])

	letterID := int64(letter["id"].(float64))
	rec, envelope = env.do(t, http.MethodPost, "/v1/sync/dead-letters/"+strconv.FormatInt(letterID, 10)+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 0, dataObject(t, envelope)["sync_attempts"])

	pending, err := env.queue.Pending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pending)

	rec, envelope = env.do(t, http.MethodDelete, "/v1/sync/dead-letters/"+strconv.FormatInt(letterID, 10), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", errorStatus(envelope))

	rec, _ = env.do(t, http.MethodDelete, "/v1/sync/dead-letters/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	rec, envelope := env.do(t, http.MethodPost, "/v1/teams", `{"name":"Eagles","sport":"football","owner_id":"u1","colour":"red"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_ARGUMENT", errorStatus(envelope))
}

func TestHandler_OptionalBodiesAreDecodedStrictly(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	teamID := env.createTeam(t)

	rec, _ := env.do(t, http.MethodPost, "/v1/sync/trigger", "")
	require.Equal(t, http.StatusAccepted, rec.Code, "empty trigger body is allowed")

	rec, envelope := env.do(t, http.MethodPost, "/v1/sync/trigger", `{"wait":true,"force":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_ARGUMENT", errorStatus(envelope))

	rec, envelope = env.do(t, http.MethodPost, "/v1/teams/"+teamID+"/join-code", `{"valid_for_days":2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_ARGUMENT", errorStatus(envelope))

	env.gateway.On("GenerateTeamCode", mock.Anything, teamID).Return("NEW777", nil).Once()
	rec, envelope = env.do(t, http.MethodPost, "/v1/teams/"+teamID+"/join-code", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "NEW777", dataObject(t, envelope)["code"])
}

func TestHandler_CreateTeamRequiresOwner(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	rec, _ := env.do(t, http.MethodPost, "/v1/teams", `{"name":"Eagles","sport":"football"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RequireToken(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "s3cret")

	rec, envelope := env.do(t, http.MethodPost, "/v1/sync/trigger", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHENTICATED", errorStatus(envelope))

	rec, _ = env.do(t, http.MethodGet, "/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code, "reads stay open")

	rec, envelope = env.do(t, http.MethodPost, "/v1/sync/trigger", "", statusTokenHeader, "s3cret")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, false, dataObject(t, envelope)["accepted"], "scheduler is not running")
}

func TestHandler_JoinTeam(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	teamID := env.createTeam(t)

	rec, envelope := env.do(t, http.MethodPost, "/v1/teams/join", `{"code":"join42"}`, userHeader, "u2")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	member := dataObject(t, envelope)
	require.Equal(t, teamID, member["team_id"])
	require.Equal(t, "member", member["role"])

	rec, envelope = env.do(t, http.MethodPost, "/v1/teams/join", `{"code":"JOIN42","user_id":"u2"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ALREADY_EXISTS", errorStatus(envelope))

	rec, _ = env.do(t, http.MethodPost, "/v1/teams/join", `{"code":"NOPE99","user_id":"u3"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_SetConnectivity(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")

	rec, _ := env.do(t, http.MethodPut, "/v1/sync/connectivity", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, envelope := env.do(t, http.MethodPut, "/v1/sync/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, dataObject(t, envelope)["online"])
	require.False(t, env.probe.Online(context.Background()))
}

func TestHandler_MatchAndTournamentRoutes(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, "")
	teamID := env.createTeam(t)

	rec, envelope := env.do(t, http.MethodPost, "/v1/tournaments", `{"name":"Spring Cup","sport":"football","start_date":"2026-04-01T00:00:00Z"}`, userHeader, "u1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tournamentID := dataObject(t, envelope)["id"].(string)

	rec, envelope = env.do(t, http.MethodPost, "/v1/tournaments/"+tournamentID+"/teams", `{"team_id":"`+teamID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []any{teamID}, dataObject(t, envelope)["teams"])

	body := `{"team_id":"` + teamID + `","tournament_id":"` + tournamentID + `","opponent":"Hawks","scheduled_at":"2026-04-02T15:00:00Z"}`
	rec, envelope = env.do(t, http.MethodPost, "/v1/matches", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	matchID := dataObject(t, envelope)["id"].(string)

	rec, envelope = env.do(t, http.MethodPost, "/v1/matches/"+matchID+"/score", `{"home":2,"away":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "completed", dataObject(t, envelope)["status"])

	rec, envelope = env.do(t, http.MethodGet, "/v1/teams/"+teamID+"/matches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, envelope["data"].([]any), 1)

	rec, envelope = env.do(t, http.MethodGet, "/v1/tournaments", "", userHeader, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, envelope["data"].([]any), 1)
}
