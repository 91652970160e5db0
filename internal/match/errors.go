package match

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a row does not exist
var ErrNotFound = errors.New("not found")

// ValidationError means the source record cannot drive candidate retrieval.
// FindMatches turns it into an empty result rather than returning it.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// PersistenceError wraps a reference-dataset or proposal-store I/O failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotFoundError is returned when an apply/reject target is missing
type NotFoundError struct {
	Kind string // proposal, reference, collection record
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyFinalizedError is a non-fatal conflict on a confirmed or rejected proposal
type AlreadyFinalizedError struct {
	ProposalID string
	Status     ProposalStatus
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("proposal %s already %s", e.ProposalID, e.Status)
}

// AutoApplySkippedError means the policy path committed nothing and the
// proposal keeps its status. The record already carries an applied match.
type AutoApplySkippedError struct {
	ProposalID         string
	MatchedReferenceID string
}

func (e *AutoApplySkippedError) Error() string {
	return fmt.Sprintf("auto-apply of proposal %s skipped: record already matched to %s", e.ProposalID, e.MatchedReferenceID)
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
