// Package templates provides template rendering for agent prompts.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for template rendering.
type TemplateData struct {
	// Task is the generation task text being attempted or retried.
	Task string `json:"task,omitempty"`
	// ValidationErrors is the diagnostic text from the previous attempt.
	ValidationErrors string `json:"validation_errors,omitempty"`
	// UserRequest is the free-text game request being planned.
	UserRequest string `json:"user_request,omitempty"`
	// AgentRoster is the preformatted list of agents the planner may use.
	AgentRoster string `json:"agent_roster,omitempty"`
	// MaxSteps is the plan length cap stated in the planner prompt.
	MaxSteps int `json:"max_steps,omitempty"`
}

// PromptTemplate represents an embedded prompt template.
type PromptTemplate string

const (
	// PlanRequestTemplate is the planner prompt: role, roster, and user request.
	PlanRequestTemplate PromptTemplate = "plan_request.tpl.md"
	// RetryValidationTemplate is the corrective prompt after failed validation.
	RetryValidationTemplate PromptTemplate = "retry_validation.tpl.md"
	// RetryNoFilesTemplate is the corrective prompt after a response yielded no files.
	RetryNoFilesTemplate PromptTemplate = "retry_no_files.tpl.md"
)

// Renderer handles template rendering for agent prompts.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer creates a new template renderer.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	// Load all templates.
	templateNames := []PromptTemplate{
		PlanRequestTemplate,
		RetryValidationTemplate,
		RetryNoFilesTemplate,
	}

	for _, name := range templateNames {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return buf.String(), nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []PromptTemplate {
	templates := make([]PromptTemplate, 0, len(r.templates))
	for name := range r.templates {
		templates = append(templates, name)
	}
	return templates
}
