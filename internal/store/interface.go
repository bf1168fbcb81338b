package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/lussekatt/internal/models"
)

type WorkflowStore interface {
	Close() error
	ApplyMigrations(dir string) error

	CreateWorkflow(w *models.StaffWorkflow) error
	GetWorkflow(submissionUUID string) (*models.StaffWorkflow, error)

	// FindClaimable returns workflows in the category with no terminal
	// state and no active lease as of cutoff, oldest first.
	FindClaimable(category models.CategoryKey, cutoff int64) ([]models.StaffWorkflow, error)

	// AcquireLease transitions one workflow to leased iff its current
	// lease is absent or started at/before cutoff. Returns
	// ErrLeaseConflict when the precondition no longer holds.
	AcquireLease(submissionUUID, scorerID string, now, cutoff int64) error

	CompleteGrading(submissionUUID, scorerID, assessment string, now int64) error
	CancelWorkflow(submissionUUID string, now int64) error
	ReturnWorkflow(submissionUUID string, now int64) error

	CountStatuses(category models.CategoryKey, cutoff int64) (*models.StatusCounts, error)
	ListPending(category models.CategoryKey, cutoff int64) ([]string, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB *sqlx.DB

	// Converter rewrites '?' placeholders into the dialect's form.
	Converter func(string) string

	// IsUniqueViolation reports whether err is the driver's
	// unique-constraint error, set per dialect.
	IsUniqueViolation func(error) bool
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(fmt.Sprintf("%s/%s", dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

func (s *BaseStore) CreateWorkflow(w *models.StaffWorkflow) error {
	_, err := s.DB.NamedExec(`
		INSERT INTO staff_workflows
			(submission_uuid, course_id, item_id, scorer_id, created_at,
			 grading_started_at, grading_completed_at, cancelled_at, returned_at, assessment)
		VALUES
			(:submission_uuid, :course_id, :item_id, :scorer_id, :created_at,
			 :grading_started_at, :grading_completed_at, :cancelled_at, :returned_at, :assessment)
	`, w)
	if err != nil {
		if s.IsUniqueViolation != nil && s.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSubmission, w.SubmissionUUID)
		}
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (s *BaseStore) GetWorkflow(submissionUUID string) (*models.StaffWorkflow, error) {
	var w models.StaffWorkflow
	query := s.Converter(`
		SELECT submission_uuid, course_id, item_id, scorer_id, created_at,
		       grading_started_at, grading_completed_at, cancelled_at, returned_at, assessment
		FROM staff_workflows
		WHERE submission_uuid = ?
	`)

	err := s.DB.Get(&w, query, submissionUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, submissionUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &w, nil
}

func (s *BaseStore) FindClaimable(category models.CategoryKey, cutoff int64) ([]models.StaffWorkflow, error) {
	var workflows []models.StaffWorkflow
	query := s.Converter(`
		SELECT submission_uuid, course_id, item_id, scorer_id, created_at,
		       grading_started_at, grading_completed_at, cancelled_at, returned_at, assessment
		FROM staff_workflows
		WHERE course_id = ?
		AND item_id = ?
		AND grading_completed_at IS NULL
		AND cancelled_at IS NULL
		AND returned_at IS NULL
		AND (grading_started_at IS NULL OR grading_started_at <= ?)
		ORDER BY created_at, submission_uuid
	`)

	err := s.DB.Select(&workflows, query, category.CourseID, category.ItemID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find claimable workflows: %w", err)
	}

	return workflows, nil
}

// AcquireLease re-checks the claim precondition at write time. Two
// scanners may see the same stale candidate; only the first UPDATE
// matches the WHERE clause, the second gets zero rows.
func (s *BaseStore) AcquireLease(submissionUUID, scorerID string, now, cutoff int64) error {
	query := s.Converter(`
		UPDATE staff_workflows
		SET scorer_id = ?, grading_started_at = ?
		WHERE submission_uuid = ?
		AND grading_completed_at IS NULL
		AND cancelled_at IS NULL
		AND returned_at IS NULL
		AND (grading_started_at IS NULL OR grading_started_at <= ?)
	`)

	res, err := s.DB.Exec(query, scorerID, now, submissionUUID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lease update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseConflict, submissionUUID)
	}
	return nil
}

// CompleteGrading records the assessment and stamps the finalizing
// scorer. A late completion after an expiry re-claim overwrites the
// scorer attribution; only cancelled/returned workflows reject it.
func (s *BaseStore) CompleteGrading(submissionUUID, scorerID, assessment string, now int64) error {
	query := s.Converter(`
		UPDATE staff_workflows
		SET grading_completed_at = ?, assessment = ?, scorer_id = ?
		WHERE submission_uuid = ?
		AND cancelled_at IS NULL
		AND returned_at IS NULL
	`)

	res, err := s.DB.Exec(query, now, assessment, scorerID, submissionUUID)
	if err != nil {
		return fmt.Errorf("failed to complete grading: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check completion update: %w", err)
	}
	if n == 0 {
		if _, err := s.GetWorkflow(submissionUUID); err != nil {
			return err
		}
		return fmt.Errorf("%w: cannot complete %s", ErrStateConflict, submissionUUID)
	}
	return nil
}

func (s *BaseStore) CancelWorkflow(submissionUUID string, now int64) error {
	return s.markTerminal(submissionUUID, "cancelled_at", now)
}

func (s *BaseStore) ReturnWorkflow(submissionUUID string, now int64) error {
	return s.markTerminal(submissionUUID, "returned_at", now)
}

// markTerminal sets one terminal timestamp iff no terminal state is
// recorded yet. A repeat of the same outcome is a no-op (the original
// timestamp stays); a different recorded outcome is a conflict.
func (s *BaseStore) markTerminal(submissionUUID, column string, now int64) error {
	query := s.Converter(fmt.Sprintf(`
		UPDATE staff_workflows
		SET %s = ?
		WHERE submission_uuid = ?
		AND grading_completed_at IS NULL
		AND cancelled_at IS NULL
		AND returned_at IS NULL
	`, column))

	res, err := s.DB.Exec(query, now, submissionUUID)
	if err != nil {
		return fmt.Errorf("failed to mark workflow %s: %w", column, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check terminal update: %w", err)
	}
	if n > 0 {
		return nil
	}

	w, err := s.GetWorkflow(submissionUUID)
	if err != nil {
		return err
	}
	if column == "cancelled_at" && w.CancelledAt != nil {
		return nil
	}
	if column == "returned_at" && w.ReturnedAt != nil {
		return nil
	}
	return fmt.Errorf("%w: cannot set %s on %s", ErrStateConflict, column, submissionUUID)
}

// CountStatuses partitions non-cancelled, non-returned workflows of a
// category into ungraded / in-progress / graded as of cutoff. Pure
// read: an expired lease shows up as ungraded without any write.
func (s *BaseStore) CountStatuses(category models.CategoryKey, cutoff int64) (*models.StatusCounts, error) {
	var counts models.StatusCounts
	query := s.Converter(`
		SELECT
			COALESCE(SUM(CASE
				WHEN grading_completed_at IS NULL
				AND (grading_started_at IS NULL OR grading_started_at <= ?)
				THEN 1 ELSE 0 END), 0) AS ungraded,
			COALESCE(SUM(CASE
				WHEN grading_completed_at IS NULL
				AND grading_started_at > ?
				THEN 1 ELSE 0 END), 0) AS in_progress,
			COALESCE(SUM(CASE
				WHEN grading_completed_at IS NOT NULL
				THEN 1 ELSE 0 END), 0) AS graded
		FROM staff_workflows
		WHERE course_id = ?
		AND item_id = ?
		AND cancelled_at IS NULL
		AND returned_at IS NULL
	`)

	err := s.DB.Get(&counts, query, cutoff, cutoff, category.CourseID, category.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}

	return &counts, nil
}

func (s *BaseStore) ListPending(category models.CategoryKey, cutoff int64) ([]string, error) {
	var uuids []string
	query := s.Converter(`
		SELECT submission_uuid
		FROM staff_workflows
		WHERE course_id = ?
		AND item_id = ?
		AND grading_completed_at IS NULL
		AND cancelled_at IS NULL
		AND returned_at IS NULL
		AND (grading_started_at IS NULL OR grading_started_at <= ?)
		ORDER BY created_at, submission_uuid
	`)

	err := s.DB.Select(&uuids, query, category.CourseID, category.ItemID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending workflows: %w", err)
	}

	return uuids, nil
}
