package grading

import (
	"errors"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/lussekatt/internal/models"
	"github.com/shrimpsizemoose/lussekatt/internal/store"
)

// DefaultLeaseDuration is how long a scorer holds a submission before
// the lease goes stale and the submission is claimable again.
const DefaultLeaseDuration = 8 * time.Hour

// Queue hands out submissions for staff grading. One scorer at a time
// holds a lease on a submission; stale leases are reclaimed lazily at
// claim time and statistics time, never by a background sweeper.
//
// Every method takes an explicit now so callers control the clock.
type Queue struct {
	store         store.WorkflowStore
	leaseDuration time.Duration
}

func NewQueue(s store.WorkflowStore, leaseDuration time.Duration) *Queue {
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	return &Queue{
		store:         s,
		leaseDuration: leaseDuration,
	}
}

func (q *Queue) LeaseDuration() time.Duration {
	return q.leaseDuration
}

func (q *Queue) cutoff(now time.Time) int64 {
	return now.Add(-q.leaseDuration).Unix()
}

// ClaimNext leases the oldest claimable submission in the category to
// scorerID. Candidates are retried past lost races, so a concurrent
// caller never sees a spurious failure, only the next submission.
// Returns (nil, nil) when the category has nothing to grade.
func (q *Queue) ClaimNext(category models.CategoryKey, scorerID string, now time.Time) (*models.StaffWorkflow, error) {
	if err := category.Validate(); err != nil {
		return nil, fmt.Errorf("invalid category: %w", err)
	}

	cutoff := q.cutoff(now)
	candidates, err := q.store.FindClaimable(category, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for claimable submissions: %w", err)
	}

	for i := range candidates {
		w := candidates[i]
		err := q.store.AcquireLease(w.SubmissionUUID, scorerID, now.Unix(), cutoff)
		if errors.Is(err, store.ErrLeaseConflict) {
			logger.Debug.Printf("Lost claim race on %s, trying next candidate", w.SubmissionUUID)
			continue
		}
		if err != nil {
			return nil, err
		}

		// the conditional update succeeded, so the written values are
		// exactly these; no re-read needed
		started := now.Unix()
		w.ScorerID = scorerID
		w.GradingStartedAt = &started
		return &w, nil
	}

	return nil, nil
}

// Complete finalizes a leased submission with its assessment
// reference. The finalizing scorer need not be the original claimant:
// a late completion after an expiry re-claim overwrites attribution.
func (q *Queue) Complete(submissionUUID, scorerID, assessment string, now time.Time) error {
	return q.store.CompleteGrading(submissionUUID, scorerID, assessment, now.Unix())
}

// Cancel removes a submission from the pool without a grade.
// Idempotent for repeated cancels; conflicts with completed/returned.
func (q *Queue) Cancel(submissionUUID string, now time.Time) error {
	return q.store.CancelWorkflow(submissionUUID, now.Unix())
}

// Return sends a submission back without grading it.
// Idempotent for repeated returns; conflicts with completed/cancelled.
func (q *Queue) Return(submissionUUID string, now time.Time) error {
	return q.store.ReturnWorkflow(submissionUUID, now.Unix())
}

// Counts classifies every non-cancelled, non-returned submission in
// the category into exactly one of ungraded / in-progress / graded as
// of now. An empty category yields all zeroes.
func (q *Queue) Counts(category models.CategoryKey, now time.Time) (*models.StatusCounts, error) {
	if err := category.Validate(); err != nil {
		return nil, fmt.Errorf("invalid category: %w", err)
	}
	return q.store.CountStatuses(category, q.cutoff(now))
}

// Pending lists submissions awaiting a grader: not terminal and not
// under an unexpired lease, in creation order.
func (q *Queue) Pending(category models.CategoryKey, now time.Time) ([]string, error) {
	if err := category.Validate(); err != nil {
		return nil, fmt.Errorf("invalid category: %w", err)
	}
	return q.store.ListPending(category, q.cutoff(now))
}

// Get fetches one workflow by submission uuid.
func (q *Queue) Get(submissionUUID string) (*models.StaffWorkflow, error) {
	return q.store.GetWorkflow(submissionUUID)
}

// Enqueue registers a submission that needs staff evaluation.
func (q *Queue) Enqueue(w *models.StaffWorkflow, now time.Time) error {
	if w.CreatedAt == 0 {
		w.CreatedAt = now.Unix()
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}
	return q.store.CreateWorkflow(w)
}
