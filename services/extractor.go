package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"emergency-knowledge-service/models"

	"github.com/ledongthuc/pdf"
)

// TextExtractor turns uploaded files into plain UTF-8 text ready for
// chunking. Plain text passes through with encoding repair; PDFs are
// extracted with the Go PDF library first and pdftotext as a fallback.
type TextExtractor struct{}

// NewTextExtractor creates a text extractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract returns the text content of a file given its content type.
// Unsupported content types are *models.ValidationError; a PDF that no
// extraction method can read is an ordinary error the caller treats as
// fatal for the whole document.
func (e *TextExtractor) Extract(ctx context.Context, content []byte, contentType string) (string, error) {
	switch {
	case strings.HasPrefix(contentType, "text/"), contentType == "application/json", contentType == "":
		return sanitizeText(string(content)), nil
	case contentType == "application/pdf":
		return e.extractPDF(ctx, content)
	default:
		return "", models.NewValidationError("contentType", fmt.Sprintf("unsupported content type %q", contentType))
	}
}

// extractPDF tries extraction methods in order and returns the first
// non-empty result.
func (e *TextExtractor) extractPDF(ctx context.Context, content []byte) (string, error) {
	text, goErr := extractWithGoPDF(content)
	if goErr == nil && strings.TrimSpace(text) != "" {
		return sanitizeText(text), nil
	}

	text, popplerErr := extractWithPoppler(ctx, content)
	if popplerErr == nil && strings.TrimSpace(text) != "" {
		return sanitizeText(text), nil
	}

	return "", fmt.Errorf("pdf extraction failed: go-pdf: %v, poppler: %v", goErr, popplerErr)
}

// extractWithGoPDF uses the Go PDF library for extraction
func extractWithGoPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var textBuilder strings.Builder
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}

		if textBuilder.Len() > 0 {
			textBuilder.WriteString("\n\n")
		}
		textBuilder.WriteString(text)
	}

	extracted := textBuilder.String()
	if len(extracted) == 0 {
		return "", fmt.Errorf("no text extracted by go-pdf")
	}
	return extracted, nil
}

// extractWithPoppler uses poppler-utils (pdftotext) for extraction
func extractWithPoppler(ctx context.Context, content []byte) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", fmt.Errorf("pdftotext not available")
	}

	extractCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(extractCtx, "pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %v, stderr: %s", err, stderr.String())
	}

	extracted := stdout.String()
	if len(extracted) == 0 {
		return "", fmt.Errorf("no text extracted by pdftotext")
	}
	return extracted, nil
}

// sanitizeText drops invalid UTF-8 sequences and control characters other
// than newline and tab so downstream JSON encoding never chokes.
func sanitizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r < 32 && r != '\n' && r != '\t' {
			if r == '\r' {
				b.WriteByte('\n')
			}
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}

	return b.String()
}
