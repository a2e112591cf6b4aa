package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opendataops/ingestd/internal/api/dto"
	"github.com/opendataops/ingestd/internal/meta"
	"github.com/opendataops/ingestd/internal/queue"
)

// FetchDataset handles POST /api/v1/datasets/:id/fetch
// Queues an ingestion job for the dataset
func (h *DatasetHandler) FetchDataset(c *gin.Context) {
	recordID := c.Param("id")
	if recordID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "dataset id is required",
		})
		return
	}

	h.logger.Info("FetchDataset called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("record_id", recordID),
	)

	payload := queue.TaskPayload{
		Kind:   "fetch",
		Params: map[string]string{"dataset_id": recordID},
	}
	jobID, err := h.queue.Enqueue(c.Request.Context(), payload, recordID)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrCapacityExceeded):
			c.JSON(http.StatusInsufficientStorage, gin.H{
				"error": "storage capacity exceeded",
			})
		case errors.Is(err, queue.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{
				"error": "a job for this dataset is already queued or running",
			})
		default:
			h.logger.Error("Failed to enqueue job",
				slog.String("record_id", recordID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to enqueue job",
			})
		}
		return
	}

	h.notifyWorker(c, jobID)

	c.JSON(http.StatusAccepted, dto.EnqueueResponse{
		JobID:    jobID,
		RecordID: recordID,
		Status:   queue.StatusPending,
	})
}

// notifyWorker publishes a wake-up hint. Failures are logged and
// swallowed; the worker's poll loop picks the job up regardless.
func (h *DatasetHandler) notifyWorker(c *gin.Context, jobID string) {
	if h.rabbitClient == nil {
		return
	}
	body, _ := json.Marshal(gin.H{"job_id": jobID})
	if err := h.rabbitClient.Publish(c.Request.Context(), body); err != nil {
		h.logger.Warn("Failed to publish enqueue notification",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the queue status plus the latest progress message
func (h *DatasetHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	status, payload, err := h.queue.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "unknown job",
			})
			return
		}
		h.logger.Error("Failed to get job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get job status",
		})
		return
	}

	message, err := h.meta.Latest(c.Request.Context(), jobID)
	if err != nil && !errors.Is(err, meta.ErrNotFound) {
		h.logger.Error("Failed to get latest progress message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get job status",
		})
		return
	}

	c.JSON(http.StatusOK, dto.JobStatusResponse{
		JobID:   jobID,
		Status:  status,
		Kind:    payload.Kind,
		Message: message,
	})
}

// DatasetStatus handles GET /api/v1/datasets/:id/status
// Returns the latest progress message recorded for the dataset
func (h *DatasetHandler) DatasetStatus(c *gin.Context) {
	recordID := c.Param("id")

	message, err := h.meta.LatestForRecord(c.Request.Context(), recordID)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "no progress recorded for dataset",
			})
			return
		}
		h.logger.Error("Failed to get dataset status",
			slog.String("record_id", recordID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get dataset status",
		})
		return
	}

	c.JSON(http.StatusOK, dto.DatasetStatusResponse{
		RecordID: recordID,
		Message:  message,
	})
}
