package render_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/reverie/internal/render"
)

func TestRenderBasicMarkdown(t *testing.T) {
	r := render.NewMarkdownRenderer()
	got, err := r.Render("*leans closer* Fine. I **trust** you.")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "<em>leans closer</em>") {
		t.Errorf("emphasis not rendered: %q", got)
	}
	if !strings.Contains(got, "<strong>trust</strong>") {
		t.Errorf("bold not rendered: %q", got)
	}
}

func TestRenderStripsScriptInjection(t *testing.T) {
	r := render.NewMarkdownRenderer()
	got, err := r.Render(`hello <script>alert("x")</script> there`)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(got, "<script") {
		t.Errorf("script tag survived sanitization: %q", got)
	}
}

func TestRenderHardWraps(t *testing.T) {
	r := render.NewMarkdownRenderer()
	got, err := r.Render("line one\nline two")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "<br") {
		t.Errorf("single newline should render as a break: %q", got)
	}
}
