package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shelfsort/api/internal/catalog"
	domain "github.com/shelfsort/api/internal/domain"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 30
)

// ReorderReconcilerDeps bundles constructor inputs for the reorder
// reconciler.
type ReorderReconcilerDeps struct {
	Catalog catalog.Client
	Logger  Logger
	// PollInterval and PollAttempts bound the confirmation loop; zero values
	// take the 2s / 30-attempt defaults.
	PollInterval time.Duration
	PollAttempts int
	// Sleep waits for one poll interval. Defaults to a context-aware timer
	// wait; injectable so tests can run the loop instantly.
	Sleep func(ctx context.Context, d time.Duration) error
}

type reorderReconciler struct {
	catalog      catalog.Client
	logger       Logger
	pollInterval time.Duration
	pollAttempts int
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewReorderReconciler constructs the submit-and-poll reconciler.
func NewReorderReconciler(deps ReorderReconcilerDeps) (ReorderReconciler, error) {
	if deps.Catalog == nil {
		return nil, errors.New("reorder reconciler: catalog client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	interval := deps.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attempts := deps.PollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &reorderReconciler{
		catalog:      deps.Catalog,
		logger:       logger,
		pollInterval: interval,
		pollAttempts: attempts,
		sleep:        sleep,
	}, nil
}

// Reconcile writes the composed order to the catalog. The collection must be
// in manual sort mode; computed positions are meaningless under an automatic
// catalog sort. Once submitted the remote job runs to completion on its own;
// exhausting the polling budget abandons the wait without cancelling it and
// reports ErrReorderUnconfirmed alongside the outcome.
func (r *reorderReconciler) Reconcile(ctx context.Context, collectionID string, order []string) (ReorderOutcome, error) {
	if collectionID == "" {
		return ReorderOutcome{}, fmt.Errorf("%w: collection id is required", ErrResortInvalidInput)
	}
	if len(order) == 0 {
		return ReorderOutcome{}, ErrEmptyCollection
	}

	mode, err := r.catalog.CollectionSortMode(ctx, collectionID)
	if err != nil {
		return ReorderOutcome{}, fmt.Errorf("%w: reading sort mode: %v", ErrDataUnavailable, err)
	}
	if mode != domain.SortModeManual {
		return ReorderOutcome{}, fmt.Errorf("%w: collection %s reports %q", ErrNotManualSort, collectionID, mode)
	}

	moves := make([]domain.Move, len(order))
	for i, id := range order {
		moves[i] = domain.Move{ProductID: id, Position: i}
	}

	job, err := r.catalog.SubmitReorder(ctx, collectionID, moves)
	if err != nil {
		var userErr *catalog.UserError
		if errors.As(err, &userErr) {
			return ReorderOutcome{}, fmt.Errorf("%w: %s", ErrReorderRejected, err)
		}
		return ReorderOutcome{}, fmt.Errorf("%w: submitting reorder: %v", ErrDataUnavailable, err)
	}

	outcome := ReorderOutcome{JobID: job.ID, Moves: len(moves)}
	r.logger(ctx, "resort.reorder.submitted", map[string]any{
		"collectionId": collectionID,
		"jobId":        job.ID,
		"moves":        len(moves),
	})

	// Small collections complete before the submission response returns.
	if job.Done {
		outcome.Confirmed = true
		r.logger(ctx, "resort.reorder.confirmed", map[string]any{
			"jobId":    job.ID,
			"attempts": 0,
		})
		return outcome, nil
	}

	for attempt := 1; attempt <= r.pollAttempts; attempt++ {
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			outcome.Attempts = attempt - 1
			return outcome, fmt.Errorf("%w: polling interrupted: %v", ErrReorderUnconfirmed, err)
		}
		outcome.Attempts = attempt

		done, err := r.catalog.JobStatus(ctx, job.ID)
		if err != nil {
			// a failed status read consumes the attempt; the remote job
			// is unaffected, so keep polling
			r.logger(ctx, "resort.reorder.poll_error", map[string]any{
				"jobId":   job.ID,
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}
		if done {
			outcome.Confirmed = true
			r.logger(ctx, "resort.reorder.confirmed", map[string]any{
				"jobId":    job.ID,
				"attempts": attempt,
			})
			return outcome, nil
		}
	}

	r.logger(ctx, "resort.reorder.unconfirmed", map[string]any{
		"jobId":    job.ID,
		"attempts": outcome.Attempts,
	})
	return outcome, fmt.Errorf("%w: job %s after %d attempts", ErrReorderUnconfirmed, job.ID, outcome.Attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
