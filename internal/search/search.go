// Package search provides full-text search over projects. Meilisearch is
// used when reachable; otherwise a fallback scan over the in-memory store
// answers queries so search never hard-fails.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Notes   string `json:"notes"`
}
