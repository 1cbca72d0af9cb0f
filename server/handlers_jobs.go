package server

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/curioshelf/curio/catalog"
	"github.com/curioshelf/curio/errors"
	"github.com/curioshelf/curio/queue"
)

// SubmitJobRequest is the POST /v1/jobs body.
type SubmitJobRequest struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority,omitempty"`
}

type SubmitJobResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

type JobDetailResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
	Job     *queue.Job `json:"job,omitempty"`
}

type ListJobsResponse struct {
	Success bool         `json:"success"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
	Jobs    []*queue.Job `json:"jobs"`
}

type CancelJobResponse struct {
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled"`
}

type RetryFailedResponse struct {
	Success  bool   `json:"success"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
	Requeued int    `json:"requeued"`
}

type QueueStatsResponse struct {
	Success bool         `json:"success"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
	Stats   *queue.Stats `json:"stats,omitempty"`
}

type WorkerStatusResponse struct {
	Success bool                `json:"success"`
	Code    string              `json:"code,omitempty"`
	Error   string              `json:"error,omitempty"`
	Workers *queue.WorkerStatus `json:"workers,omitempty"`
}

// validatePayload enforces per-type payload shape at the request boundary.
// The queue core stays payload-agnostic; this is the one place the API and
// the handlers' expectations meet.
func validatePayload(jobType queue.JobType, payload json.RawMessage) error {
	switch jobType {
	case queue.TypeCatalogItemSync:
		var p catalog.ItemSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "invalid payload")
		}
		if p.ItemID == "" {
			return errors.New("item_id is required")
		}
	case queue.TypeCatalogBulkSync:
		var p catalog.BulkSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "invalid payload")
		}
		if p.Category == "" {
			return errors.New("category is required")
		}
	case queue.TypeCacheWarmup:
		var p catalog.CacheWarmupPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "invalid payload")
		}
		if len(p.ItemIDs) == 0 {
			return errors.New("item_ids is required")
		}
	case queue.TypeUserCollectionSync:
		var p catalog.CollectionSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "invalid payload")
		}
		if p.UserID == "" {
			return errors.New("user_id is required")
		}
	case queue.TypeSearchPrefetch:
		var p catalog.SearchPrefetchPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "invalid payload")
		}
		if len(p.Queries) == 0 {
			return errors.New("queries is required")
		}
	}
	return nil
}

// submitJob enqueues a new job.
func (s *Server) submitJob(c *fiber.Ctx) error {
	var req SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitJobResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}

	if !queue.IsValidType(req.Type) {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitJobResponse{
			Success: false,
			Code:    "UNKNOWN_TYPE",
			Error:   "unknown job type: " + req.Type,
		})
	}
	jobType := queue.JobType(req.Type)

	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitJobResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   err.Error(),
		})
	}

	if err := validatePayload(jobType, req.Payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitJobResponse{
			Success: false,
			Code:    "INVALID_PAYLOAD",
			Error:   err.Error(),
		})
	}

	id, err := s.queue.Enqueue(jobType, req.Payload, priority)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(SubmitJobResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(SubmitJobResponse{
			Success: false,
			Code:    "ENQUEUE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitJobResponse{
		Success: true,
		JobID:   id,
	})
}

// jobDetail returns the current record for one job.
func (s *Server) jobDetail(c *fiber.Ctx) error {
	job, err := s.queue.GetJob(c.Params("id"))
	if err != nil {
		if errors.IsNotFoundError(err) {
			return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "job not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(JobDetailResponse{
			Success: false,
			Code:    "JOB_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(JobDetailResponse{
		Success: true,
		Job:     job,
	})
}

// listJobs lists jobs filtered by status or type.
func (s *Server) listJobs(c *fiber.Ctx) error {
	status := c.Query("status")
	jobType := c.Query("type")

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	var jobs []*queue.Job
	var err error
	switch {
	case status != "":
		if !queue.IsValidStatus(status) {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid status value: " + status,
			})
		}
		jobs, err = s.queue.JobsByStatus(queue.Status(status), limit)
	case jobType != "":
		if !queue.IsValidType(jobType) {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "unknown job type: " + jobType,
			})
		}
		jobs, err = s.queue.JobsByType(queue.JobType(jobType), limit)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "a status or type filter is required",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListJobsResponse{
			Success: false,
			Code:    "JOB_LIST_FAILED",
			Error:   err.Error(),
		})
	}

	if jobs == nil {
		jobs = []*queue.Job{}
	}
	return c.Status(fiber.StatusOK).JSON(ListJobsResponse{
		Success: true,
		Jobs:    jobs,
	})
}

// cancelJob cancels a pending or processing job.
func (s *Server) cancelJob(c *fiber.Ctx) error {
	id := c.Params("id")

	// Distinguish "unknown job" (404) from "known but already terminal"
	// (200 with cancelled=false)
	if _, err := s.queue.GetJob(id); err != nil {
		if errors.IsNotFoundError(err) {
			return c.Status(fiber.StatusNotFound).JSON(CancelJobResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "job not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(CancelJobResponse{
			Success: false,
			Code:    "JOB_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	cancelled, err := s.queue.CancelJob(id, "cancelled via api")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(CancelJobResponse{
			Success: false,
			Code:    "CANCEL_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(CancelJobResponse{
		Success:   true,
		Cancelled: cancelled,
	})
}

// retryFailed returns every failed job to pending.
func (s *Server) retryFailed(c *fiber.Ctx) error {
	requeued, err := s.queue.RetryAllFailed()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(RetryFailedResponse{
			Success: false,
			Code:    "RETRY_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(RetryFailedResponse{
		Success:  true,
		Requeued: requeued,
	})
}

// queueStats returns the aggregate queue snapshot.
func (s *Server) queueStats(c *fiber.Ctx) error {
	stats, err := s.queue.Stats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(QueueStatsResponse{
			Success: false,
			Code:    "STATS_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(QueueStatsResponse{
		Success: true,
		Stats:   stats,
	})
}

// workerStatus returns dispatcher slot occupancy.
func (s *Server) workerStatus(c *fiber.Ctx) error {
	status := s.queue.WorkerStatus()
	return c.Status(fiber.StatusOK).JSON(WorkerStatusResponse{
		Success: true,
		Workers: &status,
	})
}
