// Package faults defines the error taxonomy shared across the pipeline.
//
// NotFound and Validation surface to callers; Degraded marks infrastructure
// failures (kvstore, SQL history) that are logged and absorbed so the
// ingestion path keeps working.
package faults

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDegraded   = errors.New("infrastructure degraded")
)

func NotFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}

func Invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

func Invalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

func Degraded(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDegraded, err)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsDegraded(err error) bool { return errors.Is(err, ErrDegraded) }
