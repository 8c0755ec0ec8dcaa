package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/index"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

type testSource struct {
	manager *index.Manager
	records *storage.RecordTable
}

func (s *testSource) WriteVectors(w io.Writer) error { return s.manager.WriteVectors(w) }
func (s *testSource) WriteMapping(w io.Writer) error { return s.manager.WriteMapping(w) }
func (s *testSource) WriteRecords(w io.Writer) error {
	_, err := s.records.WriteTo(w)
	return err
}

func newSource(t *testing.T) *testSource {
	t.Helper()
	s := &testSource{manager: index.NewEphemeral(nil, nil), records: storage.NewRecordTable()}
	vecs := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vecs {
		id := "doc.txt_" + string(rune('0'+i))
		require.NoError(t, s.records.Put(id, models.ChunkRecord{Text: id, Document: "doc.txt", Page: 1, Model: "test-model", ChunkingMethod: "fixed_size"}))
		_, err := s.manager.AddVector(v, id)
		require.NoError(t, err)
	}
	return s
}

func zipWith(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExportRead_RoundTrip(t *testing.T) {
	for _, compression := range []string{"", CompressionDeflate, CompressionZstd} {
		t.Run("compression="+compression, func(t *testing.T) {
			src := newSource(t)
			var buf bytes.Buffer
			require.NoError(t, Export(&buf, src, Options{Compression: compression}))

			zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			require.NoError(t, err)
			var names []string
			for _, f := range zr.File {
				names = append(names, f.Name)
			}
			assert.ElementsMatch(t, []string{EntryVectors, EntryMapping, EntryRecords}, names)

			c, err := ReadBytes(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, 4, c.Arena.Dimension())
			assert.Equal(t, 3, c.Arena.Len())
			assert.Equal(t, 3, c.Slots.Len())
			assert.Equal(t, 3, c.Records.Count())
			assert.Equal(t, "test-model", c.Model())

			id, ok := c.Slots.Resolve(1)
			require.True(t, ok)
			assert.Equal(t, "doc.txt_1", id)

			m := index.NewEphemeral(c.Arena, c.Slots)
			hits, err := m.Search([]float32{0, 1, 0, 0}, 1)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "doc.txt_1", hits[0].ChunkID)
			assert.Zero(t, hits[0].Distance)
		})
	}
}

func TestExport_UnknownCompression(t *testing.T) {
	err := Export(io.Discard, newSource(t), Options{Compression: "brotli"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestRead_MissingEntries(t *testing.T) {
	src := newSource(t)
	var vecs, mapping bytes.Buffer
	require.NoError(t, src.WriteVectors(&vecs))
	require.NoError(t, src.WriteMapping(&mapping))

	data := zipWith(t, map[string][]byte{EntryVectors: vecs.Bytes(), EntryMapping: mapping.Bytes()})
	_, err := ReadBytes(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrMalformedArchive))

	var me *errs.MalformedArchiveError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, []string{EntryRecords}, me.Missing)
	assert.Equal(t, []string{EntryMapping, EntryVectors}, me.Found)

	_, err = ReadBytes(zipWith(t, map[string][]byte{"readme.txt": []byte("hi")}))
	require.True(t, errors.As(err, &me))
	assert.Equal(t, []string{EntryVectors, EntryMapping, EntryRecords}, me.Missing)
}

func TestRead_LegacyMappingName(t *testing.T) {
	src := newSource(t)
	var vecs, mapping, records bytes.Buffer
	require.NoError(t, src.WriteVectors(&vecs))
	require.NoError(t, src.WriteMapping(&mapping))
	require.NoError(t, src.WriteRecords(&records))

	c, err := ReadBytes(zipWith(t, map[string][]byte{
		EntryVectors:       vecs.Bytes(),
		EntryLegacyMapping: mapping.Bytes(),
		EntryRecords:       records.Bytes(),
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Slots.Len())
}

func TestRead_EntrySizeCap(t *testing.T) {
	src := newSource(t)
	var vecs, mapping bytes.Buffer
	require.NoError(t, src.WriteVectors(&vecs))
	require.NoError(t, src.WriteMapping(&mapping))
	padded := append(bytes.Repeat([]byte(" "), 1<<20), "{}"...)
	data := zipWith(t, map[string][]byte{
		EntryVectors: vecs.Bytes(),
		EntryMapping: mapping.Bytes(),
		EntryRecords: padded,
	})
	assert.Less(t, len(data), 64<<10)

	defer func(prev int64) { MaxEntryBytes = prev }(MaxEntryBytes)
	MaxEntryBytes = 64 << 10
	_, err := ReadBytes(data)
	var me *errs.MalformedArchiveError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, EntryRecords, me.Entry)

	MaxEntryBytes = 2 << 20
	c, err := ReadBytes(data)
	require.NoError(t, err)
	assert.Zero(t, c.Records.Count())
}

func TestRead_UnparsableEntries(t *testing.T) {
	src := newSource(t)
	var vecs, mapping, records bytes.Buffer
	require.NoError(t, src.WriteVectors(&vecs))
	require.NoError(t, src.WriteMapping(&mapping))
	require.NoError(t, src.WriteRecords(&records))

	tests := []struct {
		name    string
		entries map[string][]byte
		entry   string
	}{
		{"bad vectors", map[string][]byte{EntryVectors: []byte("nope"), EntryMapping: mapping.Bytes(), EntryRecords: records.Bytes()}, EntryVectors},
		{"bad mapping", map[string][]byte{EntryVectors: vecs.Bytes(), EntryMapping: []byte("{"), EntryRecords: records.Bytes()}, EntryMapping},
		{"bad slot key", map[string][]byte{EntryVectors: vecs.Bytes(), EntryMapping: []byte(`{"x": "a"}`), EntryRecords: records.Bytes()}, EntryMapping},
		{"bad records", map[string][]byte{EntryVectors: vecs.Bytes(), EntryMapping: mapping.Bytes(), EntryRecords: []byte("[]")}, EntryRecords},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBytes(zipWith(t, tt.entries))
			var me *errs.MalformedArchiveError
			require.True(t, errors.As(err, &me), "got %v", err)
			assert.Equal(t, tt.entry, me.Entry)
		})
	}

	_, err := ReadBytes([]byte("not a zip"))
	assert.ErrorIs(t, err, errs.ErrMalformedArchive)
}

func TestContents_Unpack(t *testing.T) {
	src := newSource(t)
	path := filepath.Join(t.TempDir(), "store.zip")
	require.NoError(t, ExportFile(path, src, Options{}))

	c, err := ReadFile(path)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "imported")
	require.NoError(t, c.Unpack(dir))

	m, err := index.Open(dir)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 3, m.MappingCount())

	records, err := storage.OpenRecordTable(filepath.Join(dir, EntryRecords))
	require.NoError(t, err)
	assert.Equal(t, 3, records.Count())
	assert.True(t, m.Health(records.Count()).Consistent)
}
