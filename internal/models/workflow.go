package models

import (
	"github.com/go-playground/validator/v10"
)

// WorkflowStatus is the queue-state classification of a workflow at
// some instant. Expiry is evaluated lazily against a cutoff, so a
// workflow has no stored status column.
type WorkflowStatus string

const (
	StatusUngraded   WorkflowStatus = "ungraded"
	StatusInProgress WorkflowStatus = "in-progress"
	StatusGraded     WorkflowStatus = "graded"
	StatusCancelled  WorkflowStatus = "cancelled"
	StatusReturned   WorkflowStatus = "returned"
)

// CategoryKey identifies the work pool a submission belongs to.
type CategoryKey struct {
	CourseID string `json:"course_id" validate:"required,max=255"`
	ItemID   string `json:"item_id" validate:"required,max=128"`
}

func (c CategoryKey) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// StaffWorkflow tracks the grading lifecycle of one submission.
// Timestamps are Unix seconds; nil means the event has not happened.
type StaffWorkflow struct {
	SubmissionUUID     string  `db:"submission_uuid" json:"submission_uuid" validate:"required,max=128"`
	CourseID           string  `db:"course_id" json:"course_id" validate:"required,max=255"`
	ItemID             string  `db:"item_id" json:"item_id" validate:"required,max=128"`
	ScorerID           string  `db:"scorer_id" json:"scorer_id" validate:"max=40"`
	CreatedAt          int64   `db:"created_at" json:"created_at"`
	GradingStartedAt   *int64  `db:"grading_started_at" json:"grading_started_at,omitempty"`
	GradingCompletedAt *int64  `db:"grading_completed_at" json:"grading_completed_at,omitempty"`
	CancelledAt        *int64  `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ReturnedAt         *int64  `db:"returned_at" json:"returned_at,omitempty"`
	Assessment         *string `db:"assessment" json:"assessment,omitempty"`
}

func (w *StaffWorkflow) Validate() error {
	validate := validator.New()
	return validate.Struct(w)
}

func (w *StaffWorkflow) Category() CategoryKey {
	return CategoryKey{CourseID: w.CourseID, ItemID: w.ItemID}
}

func (w *StaffWorkflow) IsCancelled() bool {
	return w.CancelledAt != nil
}

// StatusAt classifies the workflow given an expiry cutoff (Unix
// seconds). A lease started at or before the cutoff counts as stale,
// so the workflow is back to ungraded without any write.
func (w *StaffWorkflow) StatusAt(cutoff int64) WorkflowStatus {
	switch {
	case w.CancelledAt != nil:
		return StatusCancelled
	case w.ReturnedAt != nil:
		return StatusReturned
	case w.GradingCompletedAt != nil:
		return StatusGraded
	case w.GradingStartedAt != nil && *w.GradingStartedAt > cutoff:
		return StatusInProgress
	default:
		return StatusUngraded
	}
}

// StatusCounts is the three-way partition of non-cancelled,
// non-returned workflows in one category.
type StatusCounts struct {
	Ungraded   int64 `db:"ungraded" json:"ungraded"`
	InProgress int64 `db:"in_progress" json:"in_progress"`
	Graded     int64 `db:"graded" json:"graded"`
}
