package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/teamsync/internal/usecase"
)

func (h *Handler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.ListTournaments")
	defer span.End()

	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		ownerID, _ = userIDFromContext(ctx)
	}

	items, err := h.tournamentService.ListTournaments(ctx, ownerID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, items)
}

func (h *Handler) CreateTournament(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.CreateTournament")
	defer span.End()

	var req createTournamentRequest
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err))
		return
	}
	if req.OwnerID == "" {
		req.OwnerID, _ = userIDFromContext(ctx)
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	created, err := h.tournamentService.CreateTournament(ctx, usecase.CreateTournamentInput{
		Name:      req.Name,
		Sport:     req.Sport,
		OwnerID:   req.OwnerID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Location:  req.Location,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "create tournament failed", "owner_id", req.OwnerID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusCreated, created)
}

func (h *Handler) AddTournamentTeam(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.AddTournamentTeam")
	defer span.End()

	var req addTournamentTeamRequest
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	updated, err := h.tournamentService.AddTeam(ctx, r.PathValue("tournamentID"), req.TeamID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusOK, updated)
}
