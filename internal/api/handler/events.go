package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/arkline/escrowd/internal/api/middleware"
	"github.com/arkline/escrowd/internal/api/response"
	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/model"
)

// Events streams job status changes over WebSocket. The client gets the
// current status immediately, then one message per change; the stream closes
// once the job reaches a terminal status.
type Events struct {
	jobs *core.JobService
	db   core.DB
	poll time.Duration
}

func NewEvents(jobs *core.JobService, db core.DB) *Events {
	return &Events{jobs: jobs, db: db, poll: 2 * time.Second}
}

type statusEvent struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	EscrowAddress *string `json:"escrow_address,omitempty"`
	FailedReason  *string `json:"failed_reason,omitempty"`
	Final         bool    `json:"final"`
}

func (h *Events) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		response.WriteError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	// Auth via query param (WebSocket API doesn't support custom headers).
	token := r.URL.Query().Get("token")
	if token == "" {
		response.WriteError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if _, err := middleware.AuthToken(r.Context(), h.db, token); err != nil {
		response.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, "job not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Origin differs from Host when proxied through a dashboard.
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	ctx := ws.CloseRead(r.Context())

	if err := h.send(ctx, ws, job); err != nil {
		return
	}
	if model.IsTerminalJobStatus(job.Status) {
		ws.Close(websocket.StatusNormalClosure, "job finished")
		return
	}

	lastStatus := job.Status
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := h.jobs.GetByID(ctx, id)
		if err != nil {
			ws.Close(websocket.StatusInternalError, "job lookup failed")
			return
		}
		if job.Status == lastStatus {
			continue
		}
		lastStatus = job.Status

		if err := h.send(ctx, ws, job); err != nil {
			return
		}
		if model.IsTerminalJobStatus(job.Status) {
			ws.Close(websocket.StatusNormalClosure, "job finished")
			return
		}
	}
}

func (h *Events) send(ctx context.Context, ws *websocket.Conn, job *model.Job) error {
	msg, err := json.Marshal(statusEvent{
		JobID:         job.ID,
		Status:        job.Status,
		EscrowAddress: job.EscrowAddress,
		FailedReason:  job.FailedReason,
		Final:         model.IsTerminalJobStatus(job.Status),
	})
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, msg)
}
