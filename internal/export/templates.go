package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var updateTemplate = template.Must(template.New("update.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/update.html"))

// TemplateData holds data for update template rendering
type TemplateData struct {
	Update
	SiteName string
}

// RenderUpdateHTML renders the printable page for an update.
func RenderUpdateHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := updateTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
