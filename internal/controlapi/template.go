package controlapi

import (
	"embed"
	"fmt"
	"text/template"

	"presence-bridge/internal/state"
)

//go:embed templates/status.tmpl
var templatesFS embed.FS

// pageData is the model for the plain-text status page.
type pageData struct {
	Version    string
	ServerTime string
	Status     state.Status
	History    []state.Event
}

func loadTemplate() (*template.Template, error) {
	b, err := templatesFS.ReadFile("templates/status.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read embedded status template: %w", err)
	}
	t, err := template.New("status.tmpl").Option("missingkey=zero").Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse embedded status template: %w", err)
	}
	return t, nil
}
