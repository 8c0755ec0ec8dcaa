package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kioku/internal/models"
)

// zipOf builds a zip archive from name/content pairs.
func zipOf(t *testing.T, files ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for i := 0; i+1 < len(files); i += 2 {
		fw, err := w.Create(files[i])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(files[i+1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pageTexts(pages []models.Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.Text
	}
	return out
}

func TestExtractPages_plain(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name    string
		content string
		ext     string
		want    string
	}{
		{"txt", "Hello world\nLine 2", ".txt", "Hello world\nLine 2"},
		{"md utf8", "caf\xc3\xa9", ".md", "café"},
		{"invalid utf8", "hello\x80world", ".rst", "hello�world"},
		{"unknown extension", "raw content", ".xyz", "raw content"},
		{"upper case ext", "shout", ".TXT", "shout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := e.ExtractPages([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatalf("ExtractPages: %v", err)
			}
			if len(pages) != 1 || pages[0].Number != 1 || pages[0].Text != tt.want {
				t.Errorf("got %+v", pages)
			}
		})
	}
}

func TestExtractPages_blankDocumentHasNoPages(t *testing.T) {
	pages, err := NewExtractor().ExtractPages([]byte("  \n\t"), ".txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 0 {
		t.Errorf("expected no pages, got %+v", pages)
	}
}

func TestExtractPages_excelSheets(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Second"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Second", "A1", "More")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	pages, err := NewExtractor().ExtractPages(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	want := []models.Page{{Number: 1, Text: "Title\nValue 1\tValue 2"}, {Number: 2, Text: "More"}}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("got %+v, want %+v", pages, want)
	}
}

func TestExtractPages_docx(t *testing.T) {
	body := `<w:document><w:body><w:p w:rsidR="00A1"><w:r><w:t>First</w:t></w:r><w:r><w:t xml:space="preserve"> para </w:t></w:r></w:p><w:p><w:r><w:t>Second</w:t></w:r></w:p></w:body></w:document>`
	pages, err := NewExtractor().ExtractPages(zipOf(t, "word/document.xml", body), ".docx")
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	if got := pageTexts(pages); !reflect.DeepEqual(got, []string{"First para\nSecond"}) {
		t.Errorf("got %q", got)
	}
}

func TestExtractPages_docxContentTypes(t *testing.T) {
	body := `<w:document><w:body><w:p><w:r><w:t>Moved body</w:t></w:r></w:p></w:body></w:document>`
	for _, override := range []string{
		`<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`,
		`<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>`,
	} {
		types := `<Types><Override PartName="/docProps/core.xml" ContentType="application/xml"/>` + override + `</Types>`
		pages, err := NewExtractor().ExtractPages(zipOf(t, contentTypesPath, types, "word/document2.xml", body), ".docx")
		if err != nil {
			t.Fatalf("ExtractPages: %v", err)
		}
		if got := pageTexts(pages); !reflect.DeepEqual(got, []string{"Moved body"}) {
			t.Errorf("override %s: got %q", override, got)
		}
	}
}

func TestExtractPages_docxMissingBody(t *testing.T) {
	if _, err := NewExtractor().ExtractPages(zipOf(t, "other.xml", "x"), ".docx"); err == nil {
		t.Error("expected error when document.xml is missing")
	}
}

func TestExtractPages_odt(t *testing.T) {
	content := `<office:document><office:body><office:text><text:h text:outline-level="1">Heading</text:h><text:p>Body <text:span>with span</text:span></text:p><text:p/></office:text></office:body></office:document>`
	pages, err := NewExtractor().ExtractPages(zipOf(t, "content.xml", content), ".odt")
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	if got := pageTexts(pages); !reflect.DeepEqual(got, []string{"Heading\nBody with span"}) {
		t.Errorf("got %q", got)
	}
}

func TestExtractPages_pptxSlidesInOrder(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	content := zipOf(t,
		"ppt/slides/slide10.xml", slide("Tenth"),
		"ppt/slides/slide2.xml", slide("Second"),
		"ppt/slides/slide1.xml", slide("First"),
		"ppt/slides/_rels/slide1.xml.rels", "<Relationships/>",
	)
	pages, err := NewExtractor().ExtractPages(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	want := []models.Page{{Number: 1, Text: "First"}, {Number: 2, Text: "Second"}, {Number: 3, Text: "Tenth"}}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("got %+v", pages)
	}
}

func TestExtractPages_pptxNoSlides(t *testing.T) {
	pages, err := NewExtractor().ExtractPages(zipOf(t, "docProps/core.xml", "<x/>"), ".pptx")
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("got %+v", pages)
	}
}

func TestExtractPages_odpSlides(t *testing.T) {
	content := `<office:document><office:body><office:presentation>` +
		`<draw:page draw:name="p1"><draw:frame><text:h>Slide title</text:h><text:p>Body text</text:p></draw:frame></draw:page>` +
		`<draw:page draw:name="p2"><text:p>Second slide</text:p></draw:page>` +
		`</office:presentation></office:body></office:document>`
	pages, err := NewExtractor().ExtractPages(zipOf(t, "content.xml", content), ".odp")
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	want := []string{"Slide title\nBody text", "Second slide"}
	if got := pageTexts(pages); !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractPages_odsSheets(t *testing.T) {
	content := `<office:document><office:body><office:spreadsheet>` +
		`<table:table table:name="A"><table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:p><text:span>Cell B</text:span></text:p></table:table-cell></table:table-row></table:table>` +
		`<table:table table:name="Empty"></table:table>` +
		`<table:table table:name="C"><table:table-row><table:table-cell><text:p>Cell C</text:p></table:table-cell></table:table-row></table:table>` +
		`</office:spreadsheet></office:body></office:document>`
	pages, err := NewExtractor().ExtractPages(zipOf(t, "content.xml", content), ".ods")
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	want := []models.Page{{Number: 1, Text: "Cell A\nCell B"}, {Number: 3, Text: "Cell C"}}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("got %+v", pages)
	}
}

func TestExtractPages_zipErrors(t *testing.T) {
	e := NewExtractor()
	for _, ext := range []string{".docx", ".odt", ".pptx", ".odp", ".ods"} {
		if _, err := e.ExtractPages([]byte("not a zip"), ext); err == nil {
			t.Errorf("%s: expected error for non-zip content", ext)
		}
	}
	for _, ext := range []string{".odt", ".odp", ".ods"} {
		if _, err := e.ExtractPages(zipOf(t, "other.xml", "x"), ext); err == nil {
			t.Errorf("%s: expected error when content.xml is missing", ext)
		}
	}
}

func TestExtract_files(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	xlsx := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(xlsx); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	e := NewExtractor()
	for path, want := range map[string]string{txt: "File content", xlsx: "Searchable text"} {
		pages, err := e.Extract(path)
		if err != nil {
			t.Fatalf("Extract(%s): %v", path, err)
		}
		if len(pages) != 1 || pages[0].Text != want {
			t.Errorf("Extract(%s) = %+v", path, pages)
		}
	}

	if _, err := e.Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestJoinPagesAndSupported(t *testing.T) {
	got := JoinPages([]models.Page{{Number: 1, Text: "a"}, {Number: 2, Text: "b"}})
	if got != "a\n\nb" {
		t.Errorf("JoinPages = %q", got)
	}
	if !Supported(".PDF") || Supported(".exe") {
		t.Error("Supported mismatch")
	}
}
