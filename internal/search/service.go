package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory scan.
type Service struct {
	meili    *Meili
	fallback *Memory
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback *Memory) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise scans the in-memory store.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory scan: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject pushes a project into Meilisearch (fire-and-forget).
func (s *Service) IndexProject(p ProjectRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProject(p); err != nil {
			log.Printf("search: index project %s: %v", p.ID, err)
		}
	}()
}

// DeleteProject removes a project from Meilisearch (fire-and-forget).
func (s *Service) DeleteProject(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(id); err != nil {
			log.Printf("search: delete project %s: %v", id, err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
