package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/arkline/escrowd/internal/api/request"
	"github.com/arkline/escrowd/internal/api/response"
	"github.com/arkline/escrowd/internal/config"
	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/manifest"
	"github.com/arkline/escrowd/internal/model"
	"github.com/arkline/escrowd/internal/platform"
)

type Job struct {
	svc       *core.JobService
	manifests *manifest.Store
	chains    *config.ChainRegistry
}

func NewJob(svc *core.JobService, manifests *manifest.Store, chains *config.ChainRegistry) *Job {
	return &Job{svc: svc, manifests: manifests, chains: chains}
}

// Create registers a paid job: the manifest goes to object storage first,
// then the job row is inserted pointing at it. The escrow itself is created
// later by the dispatcher.
func (h *Job) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.chains.Get(req.ChainID); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := platform.NewID()
	m := &model.Manifest{
		Title:         req.Manifest.Title,
		Description:   req.Manifest.Description,
		JobType:       req.Manifest.JobType,
		FundAmount:    req.FundAmount,
		RequestConfig: req.Manifest.RequestConfig,
	}
	url, hash, err := h.manifests.Upload(r.Context(), id, m)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("manifest upload failed")
		response.WriteError(w, http.StatusInternalServerError, "manifest upload failed")
		return
	}

	now := time.Now()
	job := &model.Job{
		ID:               id,
		ChainID:          req.ChainID,
		RequesterAddress: req.RequesterAddress,
		Status:           model.JobStatusPaid,
		ManifestURL:      url,
		ManifestHash:     hash,
		FundAmount:       req.FundAmount,
		ExchangeOracle:   req.ExchangeOracle,
		RecordingOracle:  req.RecordingOracle,
		ReputationOracle: req.ReputationOracle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.svc.Create(r.Context(), job); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, job)
}

func (h *Job) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, job)
}

func (h *Job) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	status := r.URL.Query().Get("status")

	jobs, hasMore, err := h.svc.List(r.Context(), status, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	nextCursor := ""
	if hasMore && len(jobs) > 0 {
		nextCursor = jobs[len(jobs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, jobs, nextCursor, hasMore)
}

// Cancel requests cancellation. The job moves to to_cancel immediately; the
// on-chain refund is settled asynchronously by the dispatcher.
func (h *Job) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.svc.RequestCancel(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		// Either the job does not exist or it is already past the point
		// of cancellation.
		job, gerr := h.svc.GetByID(r.Context(), id)
		if gerr != nil {
			response.WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		response.WriteError(w, http.StatusConflict, "job in status "+job.Status+" cannot be canceled")
		return
	}

	job, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusAccepted, job)
}
