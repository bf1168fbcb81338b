package store

import "errors"

var (
	// ErrNotFound means no workflow exists for the submission_uuid.
	ErrNotFound = errors.New("workflow not found")

	// ErrDuplicateSubmission means a workflow already exists for the
	// submission_uuid; there is exactly one row per submission.
	ErrDuplicateSubmission = errors.New("workflow already exists for submission")

	// ErrLeaseConflict means a conditional lease update lost the race:
	// another scorer claimed the row between scan and write. The claim
	// loop recovers by moving to the next candidate.
	ErrLeaseConflict = errors.New("lease precondition failed")

	// ErrStateConflict means the requested terminal transition
	// contradicts a different terminal state already recorded.
	ErrStateConflict = errors.New("conflicting terminal state")
)
