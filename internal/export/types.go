// Package export renders a project, live or at a specific version, to PDF.
package export

import "errors"

// Request contains parameters for an export operation.
type Request struct {
	ProjectID string
	VersionID string // empty = live content
	// IncludeNotes appends the project's notes section to the output.
	IncludeNotes bool
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNotFound indicates the project or requested version does not exist.
	ErrNotFound = errors.New("export target not found")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
