package domain

import (
	"errors"

	"storepulse/internal/pkg/apperr"
)

var (
	ErrSegmentNotFound     = errors.New("segment not found")
	ErrInvalidSegment      = errors.New("invalid segment")
	ErrInvalidCriteria     = errors.New("invalid segment criteria")
	ErrUpstreamUnavailable = apperr.ErrUpstreamUnavailable
)
