package ingest

import (
	"bytes"
	"fmt"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// NormalizeUpload converts an uploaded document body to plain text suitable
// for chunking. HTML passes through readability extraction to strip chrome
// and markup; everything else is treated as text and whitespace-collapsed.
func NormalizeUpload(contentType string, data []byte) (string, error) {
	if strings.Contains(contentType, "text/html") {
		article, err := readability.FromReader(bytes.NewReader(data), nil)
		if err != nil {
			return "", fmt.Errorf("extract html content: %w", err)
		}
		return collapseWhitespace(article.TextContent), nil
	}
	return collapseWhitespace(string(data)), nil
}

// collapseWhitespace trims lines and drops runs of blank lines so chunk
// offsets are stable across re-uploads that only differ in formatting.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
