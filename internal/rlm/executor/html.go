package executor

import (
	"strings"

	"golang.org/x/net/html"
)

// looksLikeHTML reports whether an artifact's metadata hints that its
// content is markup rather than plain text (content_type / content-type
// carrying "text/html", or a metadata.format of "html").
func looksLikeHTML(metadata map[string]any) bool {
	for _, key := range []string{"content_type", "content-type", "format"} {
		if v, ok := metadata[key].(string); ok && strings.Contains(strings.ToLower(v), "html") {
			return true
		}
	}
	return false
}

// stripHTMLTags tokenizes HTML and concatenates text-node content, so
// glimpse windowing (head/range/grep) operates over readable text instead of
// markup. Malformed HTML degrades gracefully: whatever text nodes the
// tokenizer manages to find before erroring are still returned.
func stripHTMLTags(content string) string {
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(sb.String())
		case html.TextToken:
			sb.Write(tokenizer.Text())
			sb.WriteString(" ")
		}
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
