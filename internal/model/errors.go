package model

import (
	"errors"
	"fmt"
)

// ErrorKind drives what the pipeline does with a failed attempt.
type ErrorKind string

const (
	// KindTransient failures are retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindPermanent failures are dead-lettered immediately.
	KindPermanent ErrorKind = "permanent"
	// KindUnhandled events are acknowledged and dropped.
	KindUnhandled ErrorKind = "unhandled"
)

type ProcessingError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Kind: KindPermanent, Err: err}
}

func Unhandled(eventType string) error {
	return &ProcessingError{Kind: KindUnhandled, Err: fmt.Errorf("no handler for event type %q", eventType)}
}

// KindOf reports the processing kind of err. Errors that were never classified
// are treated as transient so that a dependency outage is not mistaken for bad input.
func KindOf(err error) ErrorKind {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
