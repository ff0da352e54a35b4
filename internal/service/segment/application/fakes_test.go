package application

import (
	"context"
	"sort"
	"sync"

	"storepulse/internal/pkg/tenant"
	salesdomain "storepulse/internal/service/sales/domain"
	"storepulse/internal/service/segment/domain"
)

type memSegments struct {
	mu       sync.Mutex
	segments map[string]domain.Segment
	members  map[string][]domain.Member
	replaces int
	err      error
}

func newMemSegments() *memSegments {
	return &memSegments{segments: map[string]domain.Segment{}, members: map[string][]domain.Member{}}
}

func (m *memSegments) Create(_ context.Context, s *domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.segments[s.ID] = *s
	return nil
}

func (m *memSegments) FindByID(_ context.Context, scope tenant.Scope, id string) (*domain.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.segments[id]
	if !ok || s.Scope != scope {
		return nil, domain.ErrSegmentNotFound
	}
	return &s, nil
}

func (m *memSegments) Update(_ context.Context, s *domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.segments[s.ID]
	if !ok || cur.Scope != s.Scope {
		return domain.ErrSegmentNotFound
	}
	m.segments[s.ID] = *s
	return nil
}

func (m *memSegments) Delete(_ context.Context, scope tenant.Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok || s.Scope != scope {
		return domain.ErrSegmentNotFound
	}
	delete(m.segments, id)
	delete(m.members, id)
	return nil
}

func (m *memSegments) List(_ context.Context, scope tenant.Scope) ([]*domain.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*domain.Segment, 0)
	for _, s := range m.segments {
		if s.Scope == scope {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memSegments) Members(_ context.Context, segmentID string, limit int) ([]domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.members[segmentID]
	if len(members) > limit {
		members = members[:limit]
	}
	return append([]domain.Member(nil), members...), nil
}

func (m *memSegments) ReplaceMembership(_ context.Context, segmentID string, members []domain.Member, stats domain.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[segmentID]
	if !ok {
		return domain.ErrSegmentNotFound
	}
	m.segments[segmentID] = s.WithStats(stats)
	m.members[segmentID] = append([]domain.Member(nil), members...)
	m.replaces++
	return nil
}

func (m *memSegments) get(id string) domain.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segments[id]
}

// fakeSales returns the sales of the queried scope.
type fakeSales struct {
	mu      sync.Mutex
	byScope map[tenant.Scope][]salesdomain.SaleRecord
	calls   int
	err     error
}

func (f *fakeSales) FindSales(_ context.Context, q salesdomain.SaleQuery) ([]salesdomain.SaleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sales := f.byScope[q.Scope]
	if len(sales) > q.EffectiveLimit() {
		sales = sales[:q.EffectiveLimit()]
	}
	return sales, nil
}

type chanLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	err   error
}

func newChanLocker() *chanLocker { return &chanLocker{locks: map[string]chan struct{}{}} }

func (l *chanLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.SegmentRecalculated
	err    error
}

func (p *recordingPublisher) PublishSegmentRecalculated(_ context.Context, evt domain.SegmentRecalculated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}
