// Package prompts manages versioned text templates for LLM calls: a system
// prompt, an intent-recognition instruction, and a processing placeholder.
// Only intent_recognition is rendered, by the intent classifier; the
// placeholder the conversation engine returns comes from internal/router.
package prompts

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Template is a single named, versioned prompt.
type Template struct {
	Name    string
	Version string
	Body    string
	Enabled bool
}

// Registry is a concurrency-safe store of named prompt templates, reloaded
// wholesale on each Loader.Reload rather than mutated piecemeal.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry returns an empty registry; callers populate it via Register or
// a Loader before first use.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register adds or replaces a template, unlike the teacher's registry which
// rejects duplicate names — prompt files are expected to be reloaded in
// place on SIGHUP, so replacement must be the default.
func (r *Registry) Register(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
}

// Get returns the named template, or (nil, false) if absent.
func (r *Registry) Get(name string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Body returns the raw template body for name, or "" if it is missing or
// disabled.
func (r *Registry) Body(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.templates[name]; ok && t.Enabled {
		return t.Body
	}
	return ""
}

// Names lists every registered template name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Render executes the named template against data using text/template, the
// same engine the teacher uses for markdown/prompt substitution.
func (r *Registry) Render(name string, data any) (string, error) {
	body := r.Body(name)
	if body == "" {
		return "", fmt.Errorf("prompt template %q not found or disabled", name)
	}
	tpl, err := template.New(name).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse prompt template %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt template %q: %w", name, err)
	}
	return buf.String(), nil
}

// ReplaceAll atomically swaps the whole template set, used by Loader.Reload
// so readers never observe a half-reloaded registry.
func (r *Registry) ReplaceAll(templates map[string]*Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = templates
}
