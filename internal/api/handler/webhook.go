package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/arkline/escrowd/internal/api/request"
	"github.com/arkline/escrowd/internal/api/response"
	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/model"
	"github.com/arkline/escrowd/internal/webhook"
)

const maxWebhookBody = 1 << 20

// WebhookReceiver handles inbound lifecycle events from oracles. Senders
// authenticate with the payload signature, so this endpoint sits outside
// the API-key middleware.
type WebhookReceiver struct {
	jobs   *core.JobService
	signer *webhook.Signer
}

func NewWebhookReceiver(jobs *core.JobService, signer *webhook.Signer) *WebhookReceiver {
	return &WebhookReceiver{jobs: jobs, signer: signer}
}

func (h *WebhookReceiver) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get(webhook.SignatureHeader)
	if sig == "" || !h.signer.Verify(body, sig) {
		response.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req request.IncomingWebhook
	if err := request.DecodeBytes(body, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.GetByEscrow(r.Context(), req.ChainID, req.EscrowAddress)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, "no job for this escrow")
		return
	}

	ok, err := h.apply(r, job, &req)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		// Stale or duplicate event: the job has already moved on. The
		// sender gets a conflict so it stops retrying with the same event.
		response.WriteError(w, http.StatusConflict, "job in status "+job.Status+" does not accept "+req.EventType)
		return
	}

	log.Ctx(r.Context()).Info().
		Str("job_id", job.ID).
		Str("event_type", req.EventType).
		Msg("oracle event applied")
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookReceiver) apply(r *http.Request, job *model.Job, req *request.IncomingWebhook) (bool, error) {
	ctx := r.Context()

	var target string
	switch req.EventType {
	case model.EventEscrowPartial:
		target = model.JobStatusPartial
	case model.EventEscrowCompleted:
		target = model.JobStatusCompleted
	case model.EventEscrowFailed:
		target = model.JobStatusFailed
	default:
		return false, fmt.Errorf("unsupported event type %q", req.EventType)
	}

	if !model.CanTransition(job.Status, target) {
		return false, nil
	}

	if target == model.JobStatusFailed {
		reason := req.Reason
		if reason == "" {
			reason = "reported failed by oracle"
		}
		return h.jobs.MarkFailed(ctx, job.ID, job.Status, reason)
	}
	return h.jobs.Transition(ctx, job.ID, job.Status, target)
}
