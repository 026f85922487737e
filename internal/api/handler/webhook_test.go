package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/model"
	"github.com/arkline/escrowd/internal/webhook"
)

func signedEventRequest(signer *webhook.Signer, body string) *http.Request {
	r := newRequestRaw(http.MethodPost, "/v1/webhooks", body)
	r.Header.Set(webhook.SignatureHeader, signer.Sign([]byte(body)))
	return r
}

func eventBody(escrow, eventType, reason string) string {
	return fmt.Sprintf(`{"chain_id":137,"escrow_address":"%s","event_type":"%s","reason":"%s"}`,
		escrow, eventType, reason)
}

func TestWebhookReceiver_CompletedEvent(t *testing.T) {
	job := launchedJob("job-1")
	db := newHandlerDB(job)
	signer := webhook.NewSigner("secret")
	h := NewWebhookReceiver(core.NewJobService(db), signer)

	rec := httptest.NewRecorder()
	h.Receive(rec, signedEventRequest(signer, eventBody(*job.EscrowAddress, model.EventEscrowCompleted, "")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, db.countExecs("UPDATE jobs"))
	assert.Equal(t, []any{model.JobStatusCompleted, "job-1", model.JobStatusLaunched}, db.execArgs[0])
}

func TestWebhookReceiver_FailedEventRecordsReason(t *testing.T) {
	job := launchedJob("job-1")
	db := newHandlerDB(job)
	signer := webhook.NewSigner("secret")
	h := NewWebhookReceiver(core.NewJobService(db), signer)

	rec := httptest.NewRecorder()
	h.Receive(rec, signedEventRequest(signer, eventBody(*job.EscrowAddress, model.EventEscrowFailed, "oracle gave up")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, db.countExecs("UPDATE jobs"))
	assert.Equal(t, []any{model.JobStatusFailed, "oracle gave up", "job-1", model.JobStatusLaunched}, db.execArgs[0])
}

func TestWebhookReceiver_BadSignature(t *testing.T) {
	job := launchedJob("job-1")
	db := newHandlerDB(job)
	h := NewWebhookReceiver(core.NewJobService(db), webhook.NewSigner("secret"))

	body := eventBody(*job.EscrowAddress, model.EventEscrowCompleted, "")
	r := newRequestRaw(http.MethodPost, "/v1/webhooks", body)
	r.Header.Set(webhook.SignatureHeader, webhook.NewSigner("wrong-key").Sign([]byte(body)))

	rec := httptest.NewRecorder()
	h.Receive(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, db.countExecs("UPDATE jobs"))
}

func TestWebhookReceiver_MissingSignature(t *testing.T) {
	db := newHandlerDB(launchedJob("job-1"))
	h := NewWebhookReceiver(core.NewJobService(db), webhook.NewSigner("secret"))

	rec := httptest.NewRecorder()
	h.Receive(rec, newRequestRaw(http.MethodPost, "/v1/webhooks", `{}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookReceiver_UnknownEscrow(t *testing.T) {
	db := newHandlerDB()
	signer := webhook.NewSigner("secret")
	h := NewWebhookReceiver(core.NewJobService(db), signer)

	rec := httptest.NewRecorder()
	h.Receive(rec, signedEventRequest(signer, eventBody("0x"+strings.Repeat("cd", 20), model.EventEscrowCompleted, "")))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookReceiver_StaleEventConflicts(t *testing.T) {
	job := launchedJob("job-1")
	job.Status = model.JobStatusCompleted
	db := newHandlerDB(job)
	signer := webhook.NewSigner("secret")
	h := NewWebhookReceiver(core.NewJobService(db), signer)

	rec := httptest.NewRecorder()
	h.Receive(rec, signedEventRequest(signer, eventBody(*job.EscrowAddress, model.EventEscrowPartial, "")))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, db.countExecs("UPDATE jobs"))
}

func TestWebhookReceiver_UnknownEventType(t *testing.T) {
	job := launchedJob("job-1")
	db := newHandlerDB(job)
	signer := webhook.NewSigner("secret")
	h := NewWebhookReceiver(core.NewJobService(db), signer)

	rec := httptest.NewRecorder()
	h.Receive(rec, signedEventRequest(signer, eventBody(*job.EscrowAddress, "escrow_exploded", "")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "unsupported event type")
}
