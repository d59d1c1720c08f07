package risk

import (
	"context"
	"sync"
)

// MaxTrailLength bounds the stored assessment trail per session. Session
// IDs are client-chosen, so an uncapped trail is an easy memory sink.
const MaxTrailLength = 50

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // session → assessments
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(_ context.Context, assessment *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *assessment
	a.Threats = append([]Threat(nil), assessment.Threats...)
	a.Recommendations = append([]string(nil), assessment.Recommendations...)

	trail := append(s.assessments[assessment.Session], &a)
	if len(trail) > MaxTrailLength {
		trail = append([]*Assessment(nil), trail[len(trail)-MaxTrailLength:]...)
	}
	s.assessments[assessment.Session] = trail
	return nil
}

func (s *MemoryStore) ListBySession(_ context.Context, session string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[session]
	if len(all) == 0 {
		return nil, nil
	}

	// Return most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Assessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		a := *all[i]
		a.Threats = append([]Threat(nil), all[i].Threats...)
		a.Recommendations = append([]string(nil), all[i].Recommendations...)
		result = append(result, &a)
	}
	return result, nil
}
