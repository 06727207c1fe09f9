package polls

import (
	"errors"
	"fmt"
)

var (
	// ErrPollNotFound indicates the poll id does not resolve.
	ErrPollNotFound = errors.New("polls: poll not found")
	// ErrPollNotActive indicates a vote outside the poll's active phase.
	ErrPollNotActive = errors.New("polls: poll is not active")
	// ErrInvalidOption indicates an option index outside the poll's options.
	ErrInvalidOption = errors.New("polls: invalid option index")
	// ErrAlreadyVoted indicates a repeat vote from the same voter.
	ErrAlreadyVoted = errors.New("polls: voter already voted")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries an operation-scoped code for storage failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code, e.g. polls.vote.increment_failed.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "polls.service.new"
	opVote       = "polls.vote"
	opHasVoted   = "polls.has_voted"
	opActive     = "polls.active"
	opAnalytics  = "polls.analytics"
	opDeactivate = "polls.deactivate_expired"
	opFind       = "polls.find"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
