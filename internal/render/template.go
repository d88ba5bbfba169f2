package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
)

// Engine renders login bodies, notifier payloads and email bodies.
type Engine struct{}

// TemplateContext provides data for template execution.
type TemplateContext struct {
	Secrets map[string]string
	Vars    map[string]string
	Data    map[string]any
}

// New creates a new template engine.
func New() *Engine {
	return &Engine{}
}

// RenderString renders a text template. Output is not escaped.
func (e *Engine) RenderString(tmpl string, ctx TemplateContext) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	t, err := template.New("tpl").Option("missingkey=zero").Funcs(ctx.funcs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx.Data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// RenderHTML renders an HTML template with contextual escaping, so status
// strings scraped from a page cannot inject markup into an email.
func (e *Engine) RenderHTML(tmpl string, ctx TemplateContext) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	t, err := htmltemplate.New("html").Option("missingkey=zero").Funcs(htmltemplate.FuncMap(ctx.funcs())).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse html template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx.Data); err != nil {
		return "", fmt.Errorf("render html template: %w", err)
	}
	return buf.String(), nil
}

func (ctx TemplateContext) funcs() template.FuncMap {
	return template.FuncMap{
		"secret": func(key string) (string, error) {
			if ctx.Secrets == nil {
				return "", fmt.Errorf("no secrets available")
			}
			val, ok := ctx.Secrets[key]
			if !ok {
				return "", fmt.Errorf("secret %q not found", key)
			}
			return val, nil
		},
		"var": func(key string) (string, error) {
			if ctx.Vars == nil {
				return "", fmt.Errorf("vars not available")
			}
			val, ok := ctx.Vars[key]
			if !ok {
				return "", fmt.Errorf("var %q not defined", key)
			}
			return val, nil
		},
		"to_json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
		"default": func(fallback, v any) any {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				return fallback
			}
			if v == nil {
				return fallback
			}
			return v
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
	}
}
