// Package render converts character replies from Markdown to sanitized HTML
// for transcript export and any HTML-capable frontend. Model output is
// untrusted, so everything passes through a UGC sanitizer after rendering.
package render

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer turns Markdown into HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}

var _ Renderer = (*MarkdownRenderer)(nil)

// MarkdownRenderer renders GitHub-flavored Markdown and sanitizes the result
// with a user-generated-content policy.
type MarkdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdownRenderer creates a renderer with GFM extensions and hard line
// breaks, matching how chat messages are usually written.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render implements Renderer.
func (r *MarkdownRenderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render: convert markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}
