package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// maxStderr bounds how much pdftotext diagnostic output ends up in errors.
const maxStderr = 512

// PdfToText reads the text layer of a PDF with the poppler pdftotext binary.
// Scanned PDFs without a text layer come back empty.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText returns the layout-preserving UTF-8 text of the PDF with a
// "[page N]" marker before each page, so cited figures can name their page.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", eris.Wrapf(ctx.Err(), "ocr: pdftotext interrupted for %s", filepath.Base(pdfPath))
		}
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", filepath.Base(pdfPath), tail(stderr.String(), maxStderr))
	}

	return markPages(stdout.String()), nil
}

// markPages replaces the form feeds pdftotext emits between pages with page
// markers. Pages without text are dropped but still counted.
func markPages(raw string) string {
	pages := strings.Split(raw, "\f")
	var b strings.Builder
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[page %d]\n", i+1)
		b.WriteString(strings.TrimRight(page, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
