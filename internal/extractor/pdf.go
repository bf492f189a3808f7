package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts references from the plain text layer of a PDF.
type PDF struct {
	// MaxPages bounds how many pages are read; 0 reads the whole document.
	MaxPages int
}

// Extract implements Extractor.
func (p PDF) Extract(ctx context.Context, pdfPath string) ([]Reference, error) {
	text, err := ExtractText(ctx, pdfPath, p.MaxPages)
	if err != nil {
		return nil, err
	}
	return ParseReferences(text), nil
}

// ExtractText returns the plain text of the first maxPages pages. The pdf
// library panics on some malformed documents; those panics come back as
// errors.
func ExtractText(ctx context.Context, pdfPath string, maxPages int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf %s: %v", pdfPath, r)
		}
	}()

	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", pdfPath, err)
	}
	defer f.Close()

	pages := r.NumPage()
	if maxPages > 0 && maxPages < pages {
		pages = maxPages
	}

	var builder strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(pageText)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
