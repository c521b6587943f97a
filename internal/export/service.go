package export

import (
	"fmt"

	"inkwell/api/internal/store"
)

// ProjectGetter is the slice of the project store export reads from.
type ProjectGetter interface {
	Get(id string) (store.Project, bool)
}

// Service renders projects to PDF.
type Service struct {
	projects ProjectGetter
}

func NewService(projects ProjectGetter) *Service {
	return &Service{projects: projects}
}

// Export generates a PDF for the live project content, or for one retained
// version when VersionID is set.
func (s *Service) Export(req Request) (*Result, error) {
	p, ok := s.projects.Get(req.ProjectID)
	if !ok {
		return nil, fmt.Errorf("project %s: %w", req.ProjectID, ErrNotFound)
	}

	content := p.Content
	meta := "Current draft"
	updatedAt := p.UpdatedAt
	if req.VersionID != "" {
		v, ok := findVersion(p, req.VersionID)
		if !ok {
			return nil, fmt.Errorf("version %s: %w", req.VersionID, ErrNotFound)
		}
		content = v.Content
		meta = fmt.Sprintf("Version from %s (%s)", v.CreatedAt.Format("Jan 2, 2006 15:04"), v.Reason)
		updatedAt = v.CreatedAt
	}

	data := TemplateData{
		Title:       p.Title,
		Meta:        meta,
		ContentHTML: textToHTML(content),
		UpdatedAt:   updatedAt,
	}
	if req.IncludeNotes {
		data.NotesHTML = textToHTML(p.Notes)
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return exportPDF(html, p.Title)
}

func findVersion(p store.Project, versionID string) (store.ProjectVersion, bool) {
	for _, v := range p.History {
		if v.ID == versionID {
			return v, true
		}
	}
	return store.ProjectVersion{}, false
}
