package search

import (
	"sort"
	"strings"

	"inkwell/api/internal/store"
)

// ProjectLister exposes the projects the fallback scans. Satisfied by the
// project store.
type ProjectLister interface {
	List() []store.Project
}

const snippetRadius = 60

// Memory answers queries by scanning the authoritative in-memory projects.
// It backs search when Meilisearch is down or not configured.
type Memory struct {
	projects ProjectLister
}

func NewMemory(projects ProjectLister) *Memory {
	return &Memory{projects: projects}
}

// Healthy always reports true; the fallback has no external dependency.
func (m *Memory) Healthy() bool { return true }

// Search does a case-insensitive substring match over title, content and
// notes, ranked by which field matched.
func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return []Result{}, 0, nil
	}

	type scored struct {
		result Result
		rank   int
	}
	var matches []scored
	for _, p := range m.projects.List() {
		rank, snippet := matchProject(p, needle)
		if rank == 0 {
			continue
		}
		matches = append(matches, scored{
			result: Result{ID: p.ID, Title: p.Title, Snippet: snippet},
			rank:   rank,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank > matches[j].rank })

	total := len(matches)
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	matches = matches[q.Offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]Result, len(matches))
	for i, match := range matches {
		results[i] = match.result
	}
	return results, total, nil
}

// matchProject returns a rank (3 title, 2 content, 1 notes, 0 no match) and
// a snippet around the first hit.
func matchProject(p store.Project, needle string) (int, string) {
	if strings.Contains(strings.ToLower(p.Title), needle) {
		return 3, excerpt(p.Content, "")
	}
	if i := strings.Index(strings.ToLower(p.Content), needle); i >= 0 {
		return 2, excerpt(p.Content, p.Content[i:i+len(needle)])
	}
	if i := strings.Index(strings.ToLower(p.Notes), needle); i >= 0 {
		return 1, excerpt(p.Notes, p.Notes[i:i+len(needle)])
	}
	return 0, ""
}

// excerpt trims text to a window around the matched fragment.
func excerpt(text, match string) string {
	if text == "" {
		return ""
	}
	start := 0
	end := len(text)
	if match != "" {
		if i := strings.Index(text, match); i >= 0 {
			start = i - snippetRadius
			end = i + len(match) + snippetRadius
		}
	} else if end > 2*snippetRadius {
		end = 2 * snippetRadius
	}
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	out := strings.TrimSpace(text[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
