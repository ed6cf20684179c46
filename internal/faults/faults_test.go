package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFound(t *testing.T) {
	err := NotFound("sensor", "temp-01")
	if !IsNotFound(err) {
		t.Fatalf("not classified: %v", err)
	}
	if IsValidation(err) || IsDegraded(err) {
		t.Fatalf("cross-classified: %v", err)
	}
	wrapped := fmt.Errorf("handling request: %w", err)
	if !IsNotFound(wrapped) {
		t.Fatalf("wrapping lost the class")
	}
}

func TestValidation(t *testing.T) {
	err := Invalidf("quality %.1f outside [0,100]", 120.0)
	if !IsValidation(err) {
		t.Fatalf("not classified: %v", err)
	}
	if IsNotFound(err) {
		t.Fatalf("cross-classified")
	}
}

func TestDegradedWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Degraded("latest reading cache write", cause)
	if !IsDegraded(err) {
		t.Fatalf("not classified: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
}
