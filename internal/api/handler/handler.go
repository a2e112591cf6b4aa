package handler

import (
	"log/slog"

	"github.com/opendataops/ingestd/internal/meta"
	"github.com/opendataops/ingestd/internal/queue"
	"github.com/opendataops/ingestd/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Queue  *queue.Queue
	Meta   *meta.Store

	// RabbitClient is optional; when set, enqueues publish a wake-up
	// notification for the worker.
	RabbitClient *rabbitmq.Client
}

// DatasetHandler handles dataset and job HTTP requests
type DatasetHandler struct {
	logger       *slog.Logger
	queue        *queue.Queue
	meta         *meta.Store
	rabbitClient *rabbitmq.Client
}

// NewDatasetHandler creates a new DatasetHandler instance
func NewDatasetHandler(deps *Dependencies) *DatasetHandler {
	return &DatasetHandler{
		logger:       deps.Logger,
		queue:        deps.Queue,
		meta:         deps.Meta,
		rabbitClient: deps.RabbitClient,
	}
}
