// Package extract provides page-level text extraction from document formats.
package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kioku/internal/models"
)

// Extractor extracts pages of plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether ext (with leading dot) has a dedicated extractor.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".odt", ".xlsx", ".pptx", ".odp", ".ods", ".txt", ".md", ".rst":
		return true
	}
	return false
}

// Extract reads the file at path and returns its pages.
func (e *Extractor) Extract(path string) ([]models.Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractPages(content, filepath.Ext(path))
}

// ExtractPages splits content into 1-based pages according to ext:
// PDF pages, slides for .pptx and .odp, sheets for .xlsx and .ods.
// Word processing and plain text formats are a single page. Unknown
// extensions are treated as plain text. Pages without text are dropped.
func (e *Extractor) ExtractPages(content []byte, ext string) ([]models.Page, error) {
	var (
		texts []string
		err   error
	)
	switch strings.ToLower(ext) {
	case ".pdf":
		texts, err = extractPDF(content)
	case ".docx":
		texts, err = single(extractDOCX(content))
	case ".odt":
		texts, err = single(extractODT(content))
	case ".xlsx":
		texts, err = extractExcel(content)
	case ".pptx":
		texts, err = extractPPTX(content)
	case ".odp":
		texts, err = extractODP(content)
	case ".ods":
		texts, err = extractODS(content)
	default:
		texts, err = single(extractPlain(content))
	}
	if err != nil {
		return nil, err
	}
	pages := make([]models.Page, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, models.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

// JoinPages concatenates page texts separated by blank lines.
func JoinPages(pages []models.Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n\n")
}

func single(text string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

// readZipEntry returns the contents of name, or nil when it is absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

// joinMatches joins the first capture group of each match with spaces.
func joinMatches(parts [][]string) string {
	var b strings.Builder
	for _, p := range parts {
		t := strings.TrimSpace(p[1])
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}

// extractPlain replaces invalid UTF-8 sequences with U+FFFD.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd"), nil
	}
	return string(content), nil
}
