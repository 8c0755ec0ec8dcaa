// Package archive packs a store into a zip with exactly three entries
// (index.vec, index.mapping.json, metadata.json) and reads such archives
// back, accepting the legacy mappings.json name for the slot map.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/index"
	"github.com/hyperjump/kioku/internal/slotmap"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Entry names.
const (
	EntryVectors       = index.VectorsFile
	EntryMapping       = index.MappingFile
	EntryLegacyMapping = "mappings.json"
	EntryRecords       = storage.RecordsFile
)

// Compression methods accepted by Options.
const (
	CompressionDeflate = "deflate"
	CompressionZstd    = "zstd"
)

// MaxEntryBytes caps the decompressed size of each archive entry.
var MaxEntryBytes int64 = 1 << 30

// Source is anything that can write the three tables of a store.
type Source interface {
	WriteVectors(w io.Writer) error
	WriteMapping(w io.Writer) error
	WriteRecords(w io.Writer) error
}

// Options configures Export.
type Options struct {
	// Compression is CompressionDeflate (default) or CompressionZstd.
	Compression string
}

// Export writes src to w as a zip archive.
func Export(w io.Writer, src Source, opts Options) error {
	method := uint16(zip.Deflate)
	switch opts.Compression {
	case "", CompressionDeflate:
	case CompressionZstd:
		method = zstd.ZipMethodWinZip
	default:
		return errs.Invalid("unknown archive compression %q", opts.Compression)
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	entries := []struct {
		name  string
		write func(io.Writer) error
	}{
		{EntryVectors, src.WriteVectors},
		{EntryMapping, src.WriteMapping},
		{EntryRecords, src.WriteRecords},
	}
	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", e.name, err)
		}
		if err := e.write(fw); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// ExportFile writes src to path atomically.
func ExportFile(path string, src Source, opts Options) error {
	return utils.WriteFileAtomic(path, 0644, func(w io.Writer) error {
		return Export(w, src, opts)
	})
}

// Contents is a parsed archive: an in-memory arena, slot map and record
// table, plus the raw entry bytes so the archive can be unpacked into a
// store directory unchanged.
type Contents struct {
	Arena   *vector.Arena
	Slots   *slotmap.SlotMap
	Records *storage.RecordTable

	vectors, mapping, records []byte
}

// Read parses an archive. Missing entries and entries that fail to decode
// are reported as *errs.MalformedArchiveError.
func Read(r io.ReaderAt, size int64) (*Contents, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &errs.MalformedArchiveError{Entry: "(zip)", Err: err}
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	files := make(map[string]*zip.File, len(zr.File))
	var found []string
	for _, f := range zr.File {
		files[f.Name] = f
		found = append(found, f.Name)
	}
	sort.Strings(found)

	mappingName := EntryMapping
	if files[mappingName] == nil && files[EntryLegacyMapping] != nil {
		mappingName = EntryLegacyMapping
	}
	var missing []string
	for _, name := range []string{EntryVectors, mappingName, EntryRecords} {
		if files[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &errs.MalformedArchiveError{Missing: missing, Found: found}
	}

	c := &Contents{}
	if c.vectors, err = readEntry(files[EntryVectors]); err != nil {
		return nil, err
	}
	if c.mapping, err = readEntry(files[mappingName]); err != nil {
		return nil, err
	}
	if c.records, err = readEntry(files[EntryRecords]); err != nil {
		return nil, err
	}

	if c.Arena, err = vector.Decode(c.vectors); err != nil {
		return nil, &errs.MalformedArchiveError{Entry: EntryVectors, Err: err}
	}
	if c.Slots, err = slotmap.Decode(c.mapping); err != nil {
		return nil, &errs.MalformedArchiveError{Entry: mappingName, Err: err}
	}
	if c.Records, err = storage.DecodeRecordTable(c.records); err != nil {
		return nil, &errs.MalformedArchiveError{Entry: EntryRecords, Err: err}
	}
	return c, nil
}

// ReadBytes parses an archive held in memory.
func ReadBytes(data []byte) (*Contents, error) {
	return Read(bytes.NewReader(data), int64(len(data)))
}

// ReadFile parses the archive at path.
func ReadFile(path string) (*Contents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	return Read(f, info.Size())
}

func readEntry(f *zip.File) ([]byte, error) {
	limit := MaxEntryBytes
	if f.UncompressedSize64 > uint64(limit) {
		return nil, &errs.MalformedArchiveError{Entry: f.Name, Err: fmt.Errorf("entry declares %d bytes, limit is %d", f.UncompressedSize64, limit)}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &errs.MalformedArchiveError{Entry: f.Name, Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, int64(f.UncompressedSize64)+1))
	if err != nil {
		return nil, &errs.MalformedArchiveError{Entry: f.Name, Err: err}
	}
	if uint64(len(data)) > f.UncompressedSize64 {
		return nil, &errs.MalformedArchiveError{Entry: f.Name, Err: fmt.Errorf("entry exceeds its declared %d bytes", f.UncompressedSize64)}
	}
	return data, nil
}

// Model returns the embedding model named by the archive's records, taking
// the first record in id order, or "" for an empty table.
func (c *Contents) Model() string {
	for _, id := range c.Records.IDs() {
		rec, err := c.Records.Get(id)
		if err == nil && rec.Model != "" {
			return rec.Model
		}
	}
	return ""
}

// Unpack writes the three tables into dir under their canonical names.
func (c *Contents) Unpack(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Persistence("mkdir", dir, err)
	}
	for name, data := range map[string][]byte{
		EntryVectors: c.vectors,
		EntryMapping: c.mapping,
		EntryRecords: c.records,
	} {
		path := filepath.Join(dir, name)
		err := utils.WriteFileAtomic(path, 0644, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
		if err != nil {
			return errs.Persistence("unpack", path, err)
		}
	}
	return nil
}
