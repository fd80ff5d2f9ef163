package postage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/metrics"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/traces"
)

// NodeOps are the remote batch operations the worker performs on a bee node.
type NodeOps interface {
	CreatePostageBatch(ctx context.Context, amount int64, depth uint8) (string, error)
	TopUpBatch(ctx context.Context, batchID string, amount int64) error
	DiluteBatch(ctx context.Context, batchID string, depth uint8) error
}

// Pool resolves bee nodes for provisioning operations.
type Pool interface {
	// CreationNode returns an upload-capable node and its id.
	CreationNode() (int64, NodeOps, error)
	// NodeOps returns the node an organization is pinned to.
	NodeOps(beeID int64) (NodeOps, error)
}

// Worker drains the provisioning queues against the node pool. Exactly one
// worker runs per deployment; batch mutations must not race on a node.
type Worker struct {
	queues QueueStore
	orgs   organization.Store
	pool   Pool
	alerts alert.Sender
	delay  time.Duration
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// NewWorker creates a provisioning worker.
func NewWorker(queues QueueStore, orgs organization.Store, pool Pool, alerts alert.Sender, delay time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		queues: queues,
		orgs:   orgs,
		pool:   pool,
		alerts: alerts,
		delay:  delay,
		logger: logger.With("component", "postage_worker"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the drain loop until Stop is called or the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("postage worker started", "delay", w.delay)
	for {
		w.runCycle(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("postage worker stopped", "reason", "context cancelled")
			return
		case <-w.stop:
			w.logger.Info("postage worker stopped")
			return
		case <-time.After(w.delay):
		}
	}
}

// Stop signals the worker to exit and waits for the current cycle to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// runCycle drains all three queues once. Top-ups run first so batches close
// to expiry are extended before slower create calls hold the cycle up.
func (w *Worker) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("postage worker cycle panicked", "panic", r)
		}
	}()
	w.drainTopUps(ctx)
	w.drainCreates(ctx)
	w.drainDilutes(ctx)
}

func (w *Worker) drainTopUps(ctx context.Context) {
	jobs, err := w.queues.ListTopUp(ctx)
	if err != nil {
		w.logger.Error("failed to list top-up jobs", "error", err)
		return
	}
	metrics.PostageQueueDepth.WithLabelValues("topup").Set(float64(len(jobs)))
	for _, job := range jobs {
		if err := w.processTopUp(ctx, job); err != nil {
			// Row stays queued; the next cycle retries.
			w.logger.Error("top-up job failed", "jobId", job.ID, "batchId", job.BatchID, "error", err)
			w.alerts.SendAlert(fmt.Sprintf("failed to top up batch %s", job.BatchID), err)
			metrics.PostageJobsTotal.WithLabelValues("topup", "failure").Inc()
			if err := w.orgs.SetBatchStatus(ctx, job.OrganizationID, organization.BatchStatusFailedToTopUp); err != nil {
				w.logger.Error("failed to record top-up failure", "organizationId", job.OrganizationID, "error", err)
			}
			continue
		}
		metrics.PostageJobsTotal.WithLabelValues("topup", "success").Inc()
	}
}

func (w *Worker) processTopUp(ctx context.Context, job TopUpJob) error {
	ctx, span := traces.StartSpan(ctx, "postage.topup",
		traces.OrganizationID(job.OrganizationID), traces.BatchID(job.BatchID), traces.Amount(job.Amount))
	defer span.End()
	started := time.Now()

	org, err := w.orgs.Get(ctx, job.OrganizationID)
	if err != nil {
		return w.fail(span, fmt.Errorf("loading organization %d: %w", job.OrganizationID, err))
	}
	node, err := w.pool.NodeOps(org.BeeID)
	if err != nil {
		return w.fail(span, fmt.Errorf("resolving node %d: %w", org.BeeID, err))
	}
	if err := node.TopUpBatch(ctx, job.BatchID, job.Amount); err != nil {
		return w.fail(span, err)
	}
	if err := w.orgs.SetBatchStatus(ctx, job.OrganizationID, organization.BatchStatusCreated); err != nil {
		return w.fail(span, fmt.Errorf("restoring batch status: %w", err))
	}
	if err := w.queues.DeleteTopUp(ctx, job.ID); err != nil {
		return w.fail(span, fmt.Errorf("deleting top-up job %d: %w", job.ID, err))
	}
	metrics.PostageJobDuration.WithLabelValues("topup").Observe(time.Since(started).Seconds())
	w.logger.Info("topped up batch", "batchId", job.BatchID, "amount", job.Amount, "organizationId", job.OrganizationID)
	return nil
}

func (w *Worker) drainCreates(ctx context.Context) {
	jobs, err := w.queues.ListCreate(ctx)
	if err != nil {
		w.logger.Error("failed to list create jobs", "error", err)
		return
	}
	metrics.PostageQueueDepth.WithLabelValues("create").Set(float64(len(jobs)))
	for _, job := range jobs {
		if err := w.processCreate(ctx, job); err != nil {
			w.logger.Error("create job failed", "jobId", job.ID, "organizationId", job.OrganizationID, "error", err)
			w.alerts.SendAlert(fmt.Sprintf("failed to create batch for organization %d", job.OrganizationID), err)
			metrics.PostageJobsTotal.WithLabelValues("create", "failure").Inc()
			if err := w.orgs.SetBatchStatus(ctx, job.OrganizationID, organization.BatchStatusFailedToCreate); err != nil {
				w.logger.Error("failed to record create failure", "organizationId", job.OrganizationID, "error", err)
			}
			continue
		}
		metrics.PostageJobsTotal.WithLabelValues("create", "success").Inc()
	}
}

func (w *Worker) processCreate(ctx context.Context, job CreateJob) error {
	ctx, span := traces.StartSpan(ctx, "postage.create",
		traces.OrganizationID(job.OrganizationID), traces.Depth(job.Depth), traces.Amount(job.Amount))
	defer span.End()
	started := time.Now()

	beeID, node, err := w.pool.CreationNode()
	if err != nil {
		return w.fail(span, fmt.Errorf("picking creation node: %w", err))
	}
	span.SetAttributes(traces.BeeID(beeID))

	batchID, err := node.CreatePostageBatch(ctx, job.Amount, job.Depth)
	if err != nil {
		return w.fail(span, err)
	}
	span.SetAttributes(traces.BatchID(batchID))

	if err := w.orgs.SetPostageBatch(ctx, job.OrganizationID, batchID, beeID); err != nil {
		// The batch exists remotely but is not recorded. Keeping the row
		// would create a second batch, so surface loudly instead.
		w.alerts.SendAlert(fmt.Sprintf("batch %s created but not recorded for organization %d", batchID, job.OrganizationID), err)
		return w.fail(span, fmt.Errorf("recording batch %s: %w", batchID, err))
	}
	if err := w.queues.DeleteCreate(ctx, job.ID); err != nil {
		return w.fail(span, fmt.Errorf("deleting create job %d: %w", job.ID, err))
	}
	metrics.PostageJobDuration.WithLabelValues("create").Observe(time.Since(started).Seconds())
	w.logger.Info("created batch", "batchId", batchID, "depth", job.Depth, "amount", job.Amount,
		"organizationId", job.OrganizationID, "beeId", beeID)
	return nil
}

func (w *Worker) drainDilutes(ctx context.Context) {
	jobs, err := w.queues.ListDilute(ctx)
	if err != nil {
		w.logger.Error("failed to list dilute jobs", "error", err)
		return
	}
	metrics.PostageQueueDepth.WithLabelValues("dilute").Set(float64(len(jobs)))
	for _, job := range jobs {
		if err := w.processDilute(ctx, job); err != nil {
			w.logger.Error("dilute job failed", "jobId", job.ID, "batchId", job.BatchID, "error", err)
			w.alerts.SendAlert(fmt.Sprintf("failed to dilute batch %s", job.BatchID), err)
			metrics.PostageJobsTotal.WithLabelValues("dilute", "failure").Inc()
			if err := w.orgs.SetBatchStatus(ctx, job.OrganizationID, organization.BatchStatusFailedToDilute); err != nil {
				w.logger.Error("failed to record dilute failure", "organizationId", job.OrganizationID, "error", err)
			}
			continue
		}
		metrics.PostageJobsTotal.WithLabelValues("dilute", "success").Inc()
	}
}

func (w *Worker) processDilute(ctx context.Context, job DiluteJob) error {
	ctx, span := traces.StartSpan(ctx, "postage.dilute",
		traces.OrganizationID(job.OrganizationID), traces.BatchID(job.BatchID), traces.Depth(job.Depth))
	defer span.End()
	started := time.Now()

	org, err := w.orgs.Get(ctx, job.OrganizationID)
	if err != nil {
		return w.fail(span, fmt.Errorf("loading organization %d: %w", job.OrganizationID, err))
	}
	node, err := w.pool.NodeOps(org.BeeID)
	if err != nil {
		return w.fail(span, fmt.Errorf("resolving node %d: %w", org.BeeID, err))
	}
	if err := node.DiluteBatch(ctx, job.BatchID, job.Depth); err != nil {
		return w.fail(span, err)
	}
	if err := w.orgs.SetBatchStatus(ctx, job.OrganizationID, organization.BatchStatusCreated); err != nil {
		return w.fail(span, fmt.Errorf("restoring batch status: %w", err))
	}
	if err := w.queues.DeleteDilute(ctx, job.ID); err != nil {
		return w.fail(span, fmt.Errorf("deleting dilute job %d: %w", job.ID, err))
	}
	metrics.PostageJobDuration.WithLabelValues("dilute").Observe(time.Since(started).Seconds())
	w.logger.Info("diluted batch", "batchId", job.BatchID, "depth", job.Depth, "organizationId", job.OrganizationID)
	return nil
}

func (w *Worker) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
