package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/teamsync/internal/usecase"
)

func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.ListTeams")
	defer span.End()

	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		ownerID, _ = userIDFromContext(ctx)
	}

	items, err := h.teamService.ListTeams(ctx, ownerID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, toTeamDTOs(items))
}

func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.GetTeam")
	defer span.End()

	item, err := h.teamService.GetTeam(ctx, r.PathValue("teamID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, toTeamDTO(item))
}

func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.CreateTeam")
	defer span.End()

	var req createTeamRequest
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
	if req.OwnerID == "" {
		writeError(ctx, w, fmt.Errorf("%w: owner_id or %s header is required", usecase.ErrInvalidInput, userHeader))
		return
	}

	created, err := h.teamService.CreateTeam(ctx, usecase.CreateTeamInput{
		Name:        req.Name,
		Description: req.Description,
		Sport:       req.Sport,
		OwnerID:     req.OwnerID,
		Players:     req.Players,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "create team failed", "owner_id", req.OwnerID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusCreated, created)
}

func (h *Handler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.UpdateTeam")
	defer span.End()

	var req updateTeamRequest
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

	teamID := r.PathValue("teamID")
	updated, err := h.teamService.UpdateTeam(ctx, teamID, usecase.UpdateTeamInput{
		Name:        req.Name,
		Description: req.Description,
		Sport:       req.Sport,
		Status:      req.Status,
		Players:     req.Players,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "update team failed", "team_id", teamID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusOK, updated)
}

func (h *Handler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.DeleteTeam")
	defer span.End()

	teamID := r.PathValue("teamID")
	if err := h.teamService.DeleteTeam(ctx, teamID); err != nil {
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusOK, map[string]any{"deleted": teamID})
}

func (h *Handler) RegenerateJoinCode(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.RegenerateJoinCode")
	defer span.End()

	var req regenerateJoinCodeRequest
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(ctx, w, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	teamID := r.PathValue("teamID")
	code, err := h.teamService.RegenerateJoinCode(ctx, teamID, time.Duration(req.ValidForHours)*time.Hour)
	if err != nil {
		h.logger.WarnContext(ctx, "regenerate join code failed", "team_id", teamID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusOK, code)
}

func (h *Handler) JoinTeam(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.JoinTeam")
	defer span.End()

	var req joinTeamRequest
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err))
		return
	}
	if req.UserID == "" {
		req.UserID, _ = userIDFromContext(ctx)
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.UserID == "" {
		writeError(ctx, w, fmt.Errorf("%w: user_id or %s header is required", usecase.ErrInvalidInput, userHeader))
		return
	}

	member, err := h.teamService.JoinTeam(ctx, req.Code, req.UserID)
	if err != nil {
		h.logger.WarnContext(ctx, "join team failed", "user_id", req.UserID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("local_write")

	writeSuccess(ctx, w, http.StatusCreated, member)
}
