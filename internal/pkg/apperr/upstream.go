// Package apperr holds error types shared by several bounded contexts.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable matches every failure of a store, cache or remote collaborator.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UpstreamError records which collaborator call failed.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// Upstream wraps err as an UpstreamError. Context errors and any error in passthrough are returned unchanged.
func Upstream(op string, err error, passthrough ...error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, p := range passthrough {
		if errors.Is(err, p) {
			return err
		}
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}
