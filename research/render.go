package research

import (
	"context"
	"fmt"
	"strings"
	"text/template"
)

// DefaultReportTemplate renders a Report as Markdown.
const DefaultReportTemplate = `# {{ .Topic }}
{{ with .Subjects }}
Subjects: {{ range $i, $s := . }}{{ if $i }}, {{ end }}{{ $s.Name }}{{ with $s.Form }} ({{ . }}){{ end }}{{ end }}
{{ end }}{{ range .Sections }}
## {{ .Title }}
{{ with .URL }}
Source: <{{ . }}>
{{ end }}{{ range .Notes }}
### {{ title .Aspect }}

{{ .Text }}
{{ end }}{{ else }}
No candidates were enriched.
{{ end }}`

// TemplateRenderer implements Renderer with a text/template.
type TemplateRenderer struct {
	format   string
	template *template.Template
}

var _ Renderer = (*TemplateRenderer)(nil)

// NewTemplateRenderer parses text as a report template producing documents
// of the given format. The template can use the title function to
// capitalize a word.
func NewTemplateRenderer(format, text string) (*TemplateRenderer, error) {
	tmpl, err := template.New("report").
		Option("missingkey=error").
		Funcs(template.FuncMap{"title": capitalize}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &TemplateRenderer{format: format, template: tmpl}, nil
}

// MarkdownRenderer renders with DefaultReportTemplate.
func MarkdownRenderer() *TemplateRenderer {
	renderer, err := NewTemplateRenderer("markdown", DefaultReportTemplate)
	if err != nil {
		panic(err)
	}
	return renderer
}

// Render executes the template with the report.
func (renderer *TemplateRenderer) Render(_ context.Context, report Report) (Document, error) {
	var content strings.Builder
	if err := renderer.template.Execute(&content, report); err != nil {
		return Document{}, fmt.Errorf("render report: %w", err)
	}
	return Document{Format: renderer.format, Content: content.String()}, nil
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
