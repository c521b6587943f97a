package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(documentTemplateHTML))

// TemplateData holds data for document template rendering.
type TemplateData struct {
	Title       string
	Meta        string
	ContentHTML template.HTML
	NotesHTML   template.HTML
	UpdatedAt   time.Time
}

// RenderDocumentHTML renders the document template with provided data.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// textToHTML turns plain project text into paragraphs. Blank lines separate
// paragraphs, single newlines become line breaks, everything is escaped.
func textToHTML(text string) template.HTML {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	var b strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		b.WriteString("<p>")
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			if i > 0 {
				b.WriteString("<br>")
			}
			b.WriteString(template.HTMLEscapeString(line))
		}
		b.WriteString("</p>\n")
	}
	return template.HTML(b.String())
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .notes { background: #f5f5f5; padding: 1rem; margin-top: 2rem; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Meta}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
  {{if .NotesHTML}}
  <div class="notes">
    <h2>Notes</h2>
    {{.NotesHTML}}
  </div>
  {{end}}
</body>
</html>`
