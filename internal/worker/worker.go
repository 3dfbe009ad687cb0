// Package worker runs improvement extraction off the request path: resumes
// enqueue a job, and a polling worker claims it and calls the extractor.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/traduki/traduki/internal/storage"
)

const jobTypeExtraction = "improvement_extract"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// UpdateChecker runs the extraction workflow for one conversation.
type UpdateChecker interface {
	CheckForUpdates(ctx context.Context, conversationID string) error
}

type extractionPayload struct {
	ConversationID string `json:"conversation_id"`
}

// Queue enqueues improvement-extraction jobs. It is the workflow engine's
// Enqueuer collaborator.
type Queue struct {
	store JobStore
}

func NewQueue(store JobStore) *Queue {
	return &Queue{store: store}
}

func (q *Queue) EnqueueExtraction(conversationID string) error {
	payload, err := json.Marshal(extractionPayload{ConversationID: conversationID})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return q.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        jobTypeExtraction,
		PayloadJSON: string(payload),
	})
}

// Worker processes improvement_extract jobs from the job queue.
type Worker struct {
	store     JobStore
	extractor UpdateChecker
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, extractor UpdateChecker, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single extraction job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{jobTypeExtraction})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	if err := w.extractor.CheckForUpdates(ctx, payload.ConversationID); err != nil {
		return fmt.Errorf("extracting improvements for %s: %w", payload.ConversationID, err)
	}
	return nil
}
