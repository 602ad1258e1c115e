package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/redealabama/outbound-queue/internal/api/dto"
	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Validates the payload for its type, stores the job and notifies workers
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if err := domain.ValidatePayload(req.Type, req.Payload); err != nil {
		if errors.Is(err, domain.ErrUnknownType) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Reason: domain.ReasonUnknownType})
			return
		}
		reason, _ := domain.IsValidation(err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Reason: reason})
		return
	}

	var runAfter time.Time
	switch {
	case req.RunAfter != nil:
		runAfter = req.RunAfter.UTC()
	case req.DelaySeconds > 0:
		runAfter = h.now().Add(time.Duration(req.DelaySeconds) * time.Second)
	}

	ctx := c.Request.Context()
	id, err := h.store.Enqueue(ctx, req.Type, req.Payload, runAfter)
	if err != nil {
		h.logger.Error("Failed to create job", slog.Any("error", err))
		h.storeError(c, err, "Failed to create job")
		return
	}

	log := h.logger.With(slog.Int64("job_id", int64(id)), slog.String("type", req.Type))
	log.Info("Job enqueued")

	job, err := h.store.GetJob(ctx, id)
	if err != nil {
		log.Error("Failed to read back job", slog.Any("error", err))
		c.JSON(http.StatusCreated, gin.H{"job_id": int64(id), "status": string(domain.JobStatusPending)})
		return
	}

	h.notify(c, job)

	c.JSON(http.StatusCreated, toJobDTO(job))
}

// notify wakes idle workers. The job is already durable, so a failed
// publish only delays it until the next poll.
func (h *JobHandler) notify(c *gin.Context, job *domain.Job) {
	if h.notifier == nil {
		return
	}

	body, err := json.Marshal(domain.EnqueueNotification{JobID: job.ID, Type: job.Type, RunAfter: job.RunAfter})
	if err != nil {
		h.logger.Error("Failed to encode notification", slog.Any("error", err))
		return
	}

	if err := h.notifier.Publish(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Warn("Failed to publish enqueue notification",
			slog.Int64("job_id", int64(job.ID)),
			slog.Any("error", err),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a positive integer"})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), domain.JobID(id))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.Int64("job_id", id), slog.Any("error", err))
		h.storeError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status/type filters and cursor paging
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	status := domain.JobStatus(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid status: " + req.Status})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	afterID, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	// one extra row tells whether another page exists
	jobs, err := h.store.ListJobs(c.Request.Context(), domain.JobFilter{
		Status:  status,
		Type:    req.Type,
		AfterID: afterID,
		Limit:   req.PageSize + 1,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.Any("error", err))
		h.storeError(c, err, "Failed to list jobs")
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}
	if hasMore {
		resp.NextCursor = EncodeJobCursor(jobs[len(jobs)-1].ID)
	}

	c.JSON(http.StatusOK, resp)
}

// JobStats handles GET /api/v1/jobs/stats
func (h *JobHandler) JobStats(c *gin.Context) {
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count jobs", slog.Any("error", err))
		h.storeError(c, err, "Failed to count jobs")
		return
	}

	resp := dto.JobStatsResponse{Counts: make(map[string]int64, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
	}

	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) storeError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.ErrorResponse{Error: msg})
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	payload := job.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return dto.JobDTO{
		JobID:     int64(job.ID),
		Type:      job.Type,
		Payload:   payload,
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		LastError: job.LastError,
		RunAfter:  job.RunAfter.UTC().Format(time.RFC3339),
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
