package render

import (
	"strings"
	"testing"
)

func TestRenderString(t *testing.T) {
	engine := New()
	ctx := TemplateContext{
		Secrets: map[string]string{"token": "s3cr3t"},
		Vars:    map[string]string{"username": "ana@example.com"},
		Data:    map[string]any{"current": "Approved", "previous": ""},
	}
	cases := []struct {
		name string
		tmpl string
		want string
	}{
		{"data", "{{ .current }}", "Approved"},
		{"secret", `Bearer {{ secret "token" }}`, "Bearer s3cr3t"},
		{"var", `{{ var "username" }}`, "ana@example.com"},
		{"default on empty", `{{ default "unknown" .previous }}`, "unknown"},
		{"default on missing", `{{ default "n/a" .absent }}`, "n/a"},
		{"upper", `{{ upper .current }}`, "APPROVED"},
		{"json", `{{ to_json .current }}`, `"Approved"`},
		{"empty template", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.RenderString(tc.tmpl, ctx)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRenderStringErrors(t *testing.T) {
	engine := New()
	if _, err := engine.RenderString(`{{ secret "missing" }}`, TemplateContext{Secrets: map[string]string{}}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := engine.RenderString(`{{ .current `, TemplateContext{}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRenderHTMLEscapes(t *testing.T) {
	engine := New()
	out, err := engine.RenderHTML(`<p>{{ .current }}</p>`, TemplateContext{
		Data: map[string]any{"current": `<script>alert(1)</script>`},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("status was not escaped: %s", out)
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestRenderMapNamesFailingKey(t *testing.T) {
	engine := New()
	out, err := RenderMap(map[string]string{"Authorization": `Bearer {{ secret "token" }}`}, TemplateContext{Secrets: map[string]string{"token": "abc"}}, engine)
	if err != nil || out["Authorization"] != "Bearer abc" {
		t.Fatalf("unexpected result %v, %v", out, err)
	}
	_, err = RenderMap(map[string]string{"X-Key": `{{ secret "nope" }}`}, TemplateContext{}, engine)
	if err == nil || !strings.Contains(err.Error(), "X-Key") {
		t.Fatalf("expected error naming the key, got %v", err)
	}
}
