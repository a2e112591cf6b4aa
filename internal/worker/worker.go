package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/opendataops/ingestd/internal/config"
	"github.com/opendataops/ingestd/internal/fetch"
	"github.com/opendataops/ingestd/internal/ingest"
	"github.com/opendataops/ingestd/internal/meta"
	"github.com/opendataops/ingestd/internal/queue"
	"github.com/opendataops/ingestd/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Queue           *queue.Queue
	Meta            *meta.Store
	Metadata        fetch.MetadataProvider
	Fetcher         *fetch.Client
	Registry        *ingest.Registry
	Tweaks          *config.Tweaks
	DatasetDir      string
	DefaultEncoding string
	PollInterval    time.Duration

	// RabbitClient is optional. When set, enqueue notifications wake
	// the worker between polls; the queue table stays authoritative.
	RabbitClient *rabbitmq.Client
}

// Worker drains the job queue one job at a time and runs the ingestion
// pipeline for each claimed job.
type Worker struct {
	logger          *slog.Logger
	queue           *queue.Queue
	meta            *meta.Store
	metadata        fetch.MetadataProvider
	fetcher         *fetch.Client
	registry        *ingest.Registry
	tweaks          *config.Tweaks
	datasetDir      string
	defaultEncoding string
	pollInterval    time.Duration
	rabbitClient    *rabbitmq.Client
	wake            chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	tweaks := cfg.Tweaks
	if tweaks == nil {
		tweaks = &config.Tweaks{}
	}
	return &Worker{
		logger:          cfg.Logger,
		queue:           cfg.Queue,
		meta:            cfg.Meta,
		metadata:        cfg.Metadata,
		fetcher:         cfg.Fetcher,
		registry:        cfg.Registry,
		tweaks:          tweaks,
		datasetDir:      cfg.DatasetDir,
		defaultEncoding: cfg.DefaultEncoding,
		pollInterval:    cfg.PollInterval,
		rabbitClient:    cfg.RabbitClient,
		wake:            make(chan struct{}, 1),
	}
}

// Start claims and processes jobs until the context is canceled. The
// queue poll sleeps for the configured interval when no job is pending;
// enqueue notifications, when enabled, cut the wait short.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Duration("poll_interval", w.pollInterval),
		slog.Bool("notifications", w.rabbitClient != nil),
	)

	if w.rabbitClient != nil {
		go w.consumeNotifications(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		}

		job, err := w.queue.ClaimNext(ctx)
		if err != nil {
			w.logger.Error("Failed to claim job",
				slog.String("error", err.Error()),
			)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		if err := w.processJob(ctx, job); err != nil {
			// The job stays in_progress; a failed metadata fetch has
			// no safe automatic retry without a lease mechanism.
			w.logger.Error("Job processing failed",
				slog.String("job_id", job.ID),
				slog.String("record_id", job.RecordID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-time.After(w.pollInterval):
	}
}

// consumeNotifications drains enqueue hints into the wake channel.
// Losing a notification only costs one poll interval of latency.
func (w *Worker) consumeNotifications(ctx context.Context) {
	deliveries, err := w.rabbitClient.Consume("ingestd-worker")
	if err != nil {
		w.logger.Warn("Enqueue notifications unavailable, polling only",
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Notification channel closed, polling only")
				return
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		}
	}
}
