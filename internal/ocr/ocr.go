// Package ocr turns stored documents into plain text for extraction.
package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/config"
)

// Extractor extracts text content from a document on disk.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// NewExtractor returns an Extractor that handles PDFs with pdftotext and
// reads plain-text formats directly.
func NewExtractor(cfg config.OCRConfig) Extractor {
	return &Dispatcher{
		pdf:  NewPdfToText(cfg.PdfToTextPath),
		text: PlainText{},
	}
}

// Dispatcher routes a file to an extractor by its extension.
type Dispatcher struct {
	pdf  Extractor
	text Extractor
}

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".tsv":  true,
	".json": true,
	".html": true,
	".htm":  true,
}

// ExtractText implements Extractor.
func (d *Dispatcher) ExtractText(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return d.pdf.ExtractText(ctx, path)
	case textExtensions[ext]:
		return d.text.ExtractText(ctx, path)
	default:
		return "", eris.Errorf("ocr: unsupported file type %q", ext)
	}
}

// PlainText reads text files as-is.
type PlainText struct{}

// ExtractText implements Extractor.
func (PlainText) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read %s", path)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
