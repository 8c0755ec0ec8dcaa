package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
)

var (
	// odpPage matches one slide of an OpenDocument presentation.
	odpPage = regexp.MustCompile(`(?s)<draw:page[ >].*?</draw:page>`)
	// odsTable matches one sheet of an OpenDocument spreadsheet.
	odsTable = regexp.MustCompile(`(?s)<table:table[ >].*?</table:table>`)
)

// extractODP returns one page per draw:page.
func extractODP(content []byte) ([]string, error) {
	return extractODFSections(content, "ODP", odpPage)
}

// extractODS returns one page per table:table.
func extractODS(content []byte) ([]string, error) {
	return extractODFSections(content, "ODS", odsTable)
}

func extractODFSections(content []byte, kind string, section *regexp.Regexp) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", kind, err)
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", kind, err)
	}
	if data == nil {
		return nil, fmt.Errorf("extract %s: %s not found", kind, odfContentPath)
	}
	sections := section.FindAllString(string(data), -1)
	if len(sections) == 0 {
		return []string{odfText(string(data))}, nil
	}
	pages := make([]string, len(sections))
	for i, s := range sections {
		pages[i] = odfText(s)
	}
	return pages, nil
}
