// Package views holds the server-rendered page templates.
package views

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
	"add": func(a, b int) int { return a + b },
}

// Parse returns every page template, keyed by file name (e.g. "login.html").
func Parse() (*template.Template, error) {
	return template.New("pages").Funcs(funcs).ParseFS(templatesFS, "templates/*.html")
}
