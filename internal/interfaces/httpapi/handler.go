package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/riskibarqy/teamsync/internal/usecase"
)

// ConnectivitySwitch lets the host shell report reachability it observed itself.
type ConnectivitySwitch interface {
	SetOnline(online bool)
}

type Handler struct {
	teamService       *usecase.TeamService
	matchService      *usecase.MatchService
	tournamentService *usecase.TournamentService
	queue             *usecase.SyncQueue
	scheduler         *usecase.SyncScheduler
	connectivity      ConnectivitySwitch
	logger            *logging.Logger
	validator         *validator.Validate
}

// NewHandler wires the status API. connectivity may be nil when reachability
// is probed over HTTP instead of reported by the host.
func NewHandler(
	teamService *usecase.TeamService,
	matchService *usecase.MatchService,
	tournamentService *usecase.TournamentService,
	queue *usecase.SyncQueue,
	scheduler *usecase.SyncScheduler,
	connectivity ConnectivitySwitch,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		teamService:       teamService,
		matchService:      matchService,
		tournamentService: tournamentService,
		queue:             queue,
		scheduler:         scheduler,
		connectivity:      connectivity,
		logger:            logger.Named("httpapi.handler"),
		validator:         validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{
		"status":    "ok",
		"scheduler": h.scheduler.State().String(),
	})
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	ctx, span := startSpan(ctx, "httpapi.Handler.validateRequest")
	defer span.End()

	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: validation failed: %v", usecase.ErrInvalidInput, err)
	}

	return nil
}
