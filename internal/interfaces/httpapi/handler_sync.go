package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/teamsync/internal/usecase"
)

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.GetSyncStatus")
	defer span.End()

	pending, err := h.queue.Pending(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	letters, err := h.queue.DeadLetters(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	stats := h.scheduler.Stats()
	recent := h.scheduler.RecentlySynced()
	recentKeys := make([]string, 0, len(recent))
	for _, key := range recent {
		recentKeys = append(recentKeys, key.String())
	}

	writeSuccess(ctx, w, http.StatusOK, syncStatusDTO{
		State:           stats.State.String(),
		Running:         stats.Running,
		Pending:         pending,
		DeadLetters:     len(letters),
		Cycles:          stats.Cycles,
		OfflineCycles:   stats.OfflineCycles,
		SkippedTriggers: stats.SkippedTriggers,
		Synced:          stats.Synced,
		DeadLettered:    stats.DeadLettered,
		Resubmitted:     stats.Resubmitted,
		DroppedEvents:   stats.DroppedEvents,
		RecentlySynced:  recentKeys,
		LastCycle:       toCycleReportDTO(stats.LastCycle),
	})
}

// TriggerSync nudges the scheduler. With wait=true it runs a cycle inline and
// returns its report.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.TriggerSync")
	defer span.End()

	req, err := decodeTriggerSyncRequest(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "api"
	}

	if req.Wait {
		report, err := h.scheduler.RunOnce(ctx)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeSuccess(ctx, w, http.StatusOK, toCycleReportDTO(&report))
		return
	}

	accepted := h.scheduler.Trigger(reason)
	h.logger.InfoContext(ctx, "sync trigger requested", "reason", reason, "accepted", accepted)
	writeSuccess(ctx, w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"state":    h.scheduler.State().String(),
	})
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.ListDeadLetters")
	defer span.End()

	letters, err := h.queue.DeadLetters(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, toDeadLetterDTOs(letters))
}

func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.RetryDeadLetter")
	defer span.End()

	id, err := deadLetterIDFromPath(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	entry, err := h.queue.RetryDeadLetter(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "retry dead letter failed", "dead_letter_id", id, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.scheduler.Trigger("dead_letter_retry")

	writeSuccess(ctx, w, http.StatusOK, toQueueEntryDTO(entry))
}

func (h *Handler) DismissDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.DismissDeadLetter")
	defer span.End()

	id, err := deadLetterIDFromPath(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if err := h.queue.DismissDeadLetter(ctx, id); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, map[string]any{"dismissed": id})
}

// SetConnectivity records host-observed reachability. Going online triggers a drain.
func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "httpapi.Handler.SetConnectivity")
	defer span.End()

	if h.connectivity == nil {
		writeError(ctx, w, fmt.Errorf("%w: connectivity is probed by the daemon", usecase.ErrInvalidInput))
		return
	}

	var req setConnectivityRequest
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

	h.connectivity.SetOnline(*req.Online)
	h.logger.InfoContext(ctx, "connectivity reported", "online", *req.Online)

	writeSuccess(ctx, w, http.StatusOK, map[string]any{
		"online": *req.Online,
		"state":  h.scheduler.State().String(),
	})
}

func deadLetterIDFromPath(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: dead letter id must be a positive integer", usecase.ErrInvalidInput)
	}
	return id, nil
}

// decodeTriggerSyncRequest accepts an empty body.
func decodeTriggerSyncRequest(r *http.Request) (triggerSyncRequest, error) {
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var req triggerSyncRequest
	if err := decoder.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return triggerSyncRequest{}, nil
		}
		return triggerSyncRequest{}, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err)
	}

	return req, nil
}
