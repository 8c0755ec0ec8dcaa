package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	odfContentPath      = "content.xml"
)

var (
	// wtTag matches <w:t>text</w:t> with any attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// wpEnd marks paragraph boundaries in WordprocessingML.
	wpEnd = regexp.MustCompile(`</w:p>`)
	// Override elements carry PartName and ContentType in either order.
	overrideRe = regexp.MustCompile(`<Override[^>]*/?>`)
	partNameRe = regexp.MustCompile(`PartName="([^"]+)"`)

	odfParagraph = regexp.MustCompile(`(?s)<text:(p|h)(?:\s[^>]*)?>(.*?)</text:(?:p|h)>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

// findDocxMainDocumentPath returns the main document part named in
// [Content_Types].xml without its leading slash, or "".
func findDocxMainDocumentPath(zr *zip.Reader) string {
	data, err := readZipEntry(zr, contentTypesPath)
	if err != nil || data == nil {
		return ""
	}
	for _, o := range overrideRe.FindAllString(string(data), -1) {
		if !strings.Contains(o, `ContentType="`+docxMainContentType+`"`) {
			continue
		}
		if m := partNameRe.FindStringSubmatch(o); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return ""
}

// extractDOCX returns the text of every <w:t> run, one line per paragraph.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}

	var lines []string
	for _, para := range wpEnd.Split(string(docXML), -1) {
		if line := joinMatches(wtTag.FindAllStringSubmatch(para, -1)); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// extractODT returns the text of every paragraph and heading in content.xml.
func extractODT(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract ODT: not a zip: %w", err)
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	if data == nil {
		return "", fmt.Errorf("extract ODT: %s not found", odfContentPath)
	}
	return odfText(string(data)), nil
}

// odfText returns one line per text:p or text:h element, with nested markup stripped.
func odfText(s string) string {
	var lines []string
	for _, m := range odfParagraph.FindAllStringSubmatch(s, -1) {
		if line := strings.TrimSpace(xmlTag.ReplaceAllString(m[2], "")); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
