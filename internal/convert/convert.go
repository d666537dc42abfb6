// Package convert renders uploaded documents as heading-annotated text: one
// "# N title" line per numbered section followed by its body lines, the form
// the chunker reads.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Converter turns raw document bytes into heading-annotated text.
type Converter interface {
	Convert(ctx context.Context, r io.Reader, filename string) (string, error)
}

// ErrUnsupported is returned for file types no converter handles.
var ErrUnsupported = errors.New("unsupported file type")

// Options tunes the PDF path.
type Options struct {
	// MinerU is the mineru executable. Empty skips layout-aware conversion.
	MinerU string
	// Pdftotext enables the poppler pdftotext fallback.
	Pdftotext bool
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".pdf":      true,
	".md":       true,
	".markdown": true,
	".docx":     true,
	".html":     true,
	".htm":      true,
	".txt":      true,
}

// ForFile returns the converter for a filename.
func ForFile(filename string, opts Options) (Converter, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return &PDFConverter{MinerU: opts.MinerU, Pdftotext: opts.Pdftotext}, nil
	case ".md", ".markdown":
		return &MarkdownConverter{}, nil
	case ".docx":
		return &DOCXConverter{}, nil
	case ".html", ".htm":
		return &HTMLConverter{}, nil
	case ".txt":
		return &TextConverter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// IsSupported checks the extension of filename.
func IsSupported(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}
