package vectordb

import "errors"

var (
	// ErrRateLimitExceeded matches every *RateLimitError
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrVectorNotFound is returned when no vector exists for a content ID
	ErrVectorNotFound = errors.New("content vector not found")
)

// RateLimitError carries the quota message to show the user
type RateLimitError struct {
	UserID string
	Reason string
}

func (e *RateLimitError) Error() string {
	if e.Reason == "" {
		return ErrRateLimitExceeded.Error()
	}
	return e.Reason
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }
