// ABOUTME: Markdown rendering for assistant message content
// ABOUTME: Converts markdown to HTML when clients ask for rendered threads

package api

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts assistant markdown to HTML. Render failures fall
// back to an empty string; the client still has the raw content.
func (s *Server) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		s.logger.Error("failed to convert markdown", "error", err)
		return ""
	}
	return buf.String()
}
