package siseon

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when a category has too few articles to cluster.
var ErrInsufficientData = errors.New("insufficient data")

// ParseError is a record-scoped failure to parse an embedding or an LLM reply.
type ParseError struct {
	Record string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Record, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExternalCallError is a failed or timed out call to the store or the text generator.
type ExternalCallError struct {
	Op  string
	Err error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

// PersistenceError records a failed issue insert or back-reference update for one group.
type PersistenceError struct {
	Group string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist group %q: %v", e.Group, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
