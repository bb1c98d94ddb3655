package tts

import (
	"context"
	"errors"
)

var (
	// ErrEmptyText is returned when the text is empty after trimming.
	ErrEmptyText = errors.New("no text provided")

	// ErrDecode marks a malformed request body or override value.
	ErrDecode = errors.New("malformed request")

	// ErrBusy is returned when no synthesis slot frees up before the
	// request context ends.
	ErrBusy = errors.New("voice busy")
)

// SynthesisError reports a voice failure during synthesis.
type SynthesisError struct {
	Op    string
	Cause error
}

func (e *SynthesisError) Error() string {
	return "synthesis " + e.Op + ": " + e.Cause.Error()
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// wrapSynthesis leaves validation, busy and already-typed errors alone.
func wrapSynthesis(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SynthesisError
	switch {
	case errors.As(err, &se),
		errors.Is(err, ErrBusy),
		errors.Is(err, ErrEmptyText),
		errors.Is(err, context.Canceled):
		return err
	}
	return &SynthesisError{Op: op, Cause: err}
}
