package pdf

import (
	"fmt"
	"strings"

	"rsc.io/pdf"
)

// ExtractText pulls the text layer out of a PDF at path, page by page.
// Scanned PDFs without a text layer come back as an empty string.
func ExtractText(path string) (string, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, t := range p.Content().Text {
			sb.WriteString(strings.ReplaceAll(t.S, "\x00", ""))
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Sanitize removes extraction artifacts (carriage returns, tabs, null bytes)
// while leaving the text itself untouched.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}
