package httpapi

import (
	"fmt"
	"net/http"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/teamsync/internal/usecase"
)

func (h *Handler) ListTeamMatches(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.ListTeamMatches")
	defer span.End()

	items, err := h.matchService.ListMatchesByTeam(ctx, r.PathValue("teamID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, items)
}

func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.CreateMatch")
	defer span.End()

	var req createMatchRequest
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

	created, err := h.matchService.CreateMatch(ctx, usecase.CreateMatchInput{
		TeamID:       req.TeamID,
		TournamentID: req.TournamentID,
		Opponent:     req.Opponent,
		ScheduledAt:  req.ScheduledAt,
		Location:     req.Location,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "create match failed", "team_id", req.TeamID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusCreated, created)
}

func (h *Handler) RecordMatchScore(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.RecordMatchScore")
	defer span.End()

	var req recordScoreRequest
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

	updated, err := h.matchService.RecordScore(ctx, r.PathValue("matchID"), *req.Home, *req.Away)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusOK, updated)
}
