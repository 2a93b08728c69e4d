package research

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBudget is returned for breadth < 1 or depth < 0.
	ErrInvalidBudget = errors.New("research: breadth must be >= 1 and depth >= 0")

	// ErrEmptyCompletion is returned when the model produced no content.
	ErrEmptyCompletion = errors.New("llm returned no content")
)

// PlanningError means no usable queries could be generated for a topic.
type PlanningError struct {
	Topic string
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("query planning failed: %v", e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}
