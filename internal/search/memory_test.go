package search

import (
	"strings"
	"testing"

	"inkwell/api/internal/store"
)

func strptr(s string) *string { return &s }

func seedProjects(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	a := s.Create("Travel plans")
	s.Update(a, store.UpdateFields{Content: strptr("Pack light for the mountain trip")}, store.SourceEditor)
	b := s.Create("Groceries")
	s.Update(b, store.UpdateFields{
		Content: strptr("milk, bread, coffee"),
		Notes:   strptr("the mountain shop closes early"),
	}, store.SourceEditor)
	s.Create("Empty draft")
	return s
}

func TestMemorySearchMatchesFields(t *testing.T) {
	m := NewMemory(seedProjects(t))

	results, total, err := m.Search(Query{Text: "mountain"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 2 || len(results) != 2 {
		t.Fatalf("expected 2 hits, got total=%d results=%d", total, len(results))
	}
	// Content match ranks above notes match.
	if results[0].Title != "Travel plans" {
		t.Errorf("expected content match first, got %q", results[0].Title)
	}
	if !strings.Contains(results[0].Snippet, "mountain") {
		t.Errorf("snippet misses the match: %q", results[0].Snippet)
	}
}

func TestMemorySearchTitleMatch(t *testing.T) {
	m := NewMemory(seedProjects(t))

	results, _, err := m.Search(Query{Text: "groceries"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Groceries" {
		t.Fatalf("title match failed: %+v", results)
	}
}

func TestMemorySearchEmptyQuery(t *testing.T) {
	m := NewMemory(seedProjects(t))
	results, total, err := m.Search(Query{Text: "   "})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 0 || len(results) != 0 {
		t.Errorf("blank query should match nothing")
	}
}

func TestMemorySearchPagination(t *testing.T) {
	m := NewMemory(seedProjects(t))

	results, total, err := m.Search(Query{Text: "mountain", Limit: 1})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 2 || len(results) != 1 {
		t.Errorf("limit not applied: total=%d results=%d", total, len(results))
	}

	results, _, _ = m.Search(Query{Text: "mountain", Limit: 1, Offset: 1})
	if len(results) != 1 || results[0].Title != "Groceries" {
		t.Errorf("offset not applied: %+v", results)
	}

	results, _, _ = m.Search(Query{Text: "mountain", Offset: 10})
	if len(results) != 0 {
		t.Errorf("offset past end should yield nothing")
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, NewMemory(seedProjects(t)))
	resp := svc.Search(Query{Text: "coffee"})
	if resp.Total != 1 {
		t.Fatalf("expected fallback hit, got %+v", resp)
	}
	if resp.Query != "coffee" {
		t.Errorf("query not echoed: %q", resp.Query)
	}
	if resp.Results == nil {
		t.Errorf("results must never be nil")
	}
}

func TestExcerptWindows(t *testing.T) {
	long := strings.Repeat("a", 100) + "needle" + strings.Repeat("b", 100)
	got := excerpt(long, "needle")
	if !strings.Contains(got, "needle") {
		t.Errorf("excerpt lost the match: %q", got)
	}
	if !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipses on both sides: %q", got)
	}
	if excerpt("", "") != "" {
		t.Errorf("empty text should yield empty excerpt")
	}
}
