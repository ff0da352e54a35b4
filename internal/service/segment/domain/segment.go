package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storepulse/internal/pkg/tenant"
)

type SegmentType string

const (
	SegmentTypeRFM        SegmentType = "rfm"
	SegmentTypeBehavioral SegmentType = "behavioral"
	SegmentTypeCustom     SegmentType = "custom"
)

func (t SegmentType) Valid() bool {
	switch t {
	case SegmentTypeRFM, SegmentTypeBehavioral, SegmentTypeCustom:
		return true
	}
	return false
}

// Segment is a named group of customers selected by Criteria. Values are treated as immutable:
// updates go through Apply, statistics through WithStats.
type Segment struct {
	ID               string
	Scope            tenant.Scope
	Name             string
	Description      string
	Type             SegmentType
	Criteria         Criteria
	CustomerCount    int
	TotalRevenue     float64
	AverageLTV       float64
	LastCalculatedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewSegment(scope tenant.Scope, name string, typ SegmentType, description string, criteria Criteria, now time.Time) (*Segment, error) {
	s := &Segment{
		ID:          uuid.NewString(),
		Scope:       scope,
		Name:        strings.TrimSpace(name),
		Description: description,
		Type:        typ,
		Criteria:    criteria,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Segment) validate() error {
	if err := s.Scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSegment, err)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSegment)
	}
	if len(s.Name) > 255 {
		return fmt.Errorf("%w: name is longer than 255 characters", ErrInvalidSegment)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSegment, s.Type)
	}
	return nil
}

// Patch lists the fields a client may change. Nil fields are left untouched.
type Patch struct {
	Name        *string
	Description *string
	Type        *SegmentType
	Criteria    *Criteria
}

// Apply returns the patched segment and whether its criteria changed,
// which is the only edit that invalidates membership.
func (s Segment) Apply(p Patch, now time.Time) (Segment, bool, error) {
	next := s
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Type != nil {
		next.Type = *p.Type
	}
	criteriaChanged := false
	if p.Criteria != nil && !p.Criteria.Equal(s.Criteria) {
		next.Criteria = *p.Criteria
		criteriaChanged = true
	}
	if err := next.validate(); err != nil {
		return s, false, err
	}
	next.UpdatedAt = now
	return next, criteriaChanged, nil
}

// Stats are the segment-level figures derived from one recalculation.
type Stats struct {
	CustomerCount int
	TotalRevenue  float64
	AverageLTV    float64
	CalculatedAt  time.Time
}

// ComputeStats sums member revenue. AverageLTV is zero for an empty segment.
func ComputeStats(members []Member, now time.Time) Stats {
	st := Stats{CustomerCount: len(members), CalculatedAt: now}
	for _, m := range members {
		st.TotalRevenue += m.Snapshot.TotalRevenue
	}
	if st.CustomerCount > 0 {
		st.AverageLTV = st.TotalRevenue / float64(st.CustomerCount)
	}
	return st
}

func (s Segment) WithStats(st Stats) Segment {
	s.CustomerCount = st.CustomerCount
	s.TotalRevenue = st.TotalRevenue
	s.AverageLTV = st.AverageLTV
	at := st.CalculatedAt
	s.LastCalculatedAt = &at
	s.UpdatedAt = st.CalculatedAt
	return s
}
