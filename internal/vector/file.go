package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/kioku/pkg/utils"
)

// File layout, little endian:
//
//	magic   [4]byte "KVEC"
//	version uint32
//	dim     uint32
//	_       uint32
//	rows    dim*float32 each, count derived from file size
//
// A trailing partial row (torn append) is dropped on load, and so is a file
// cut short inside the header.
const (
	headerSize  = 16
	fileVersion = 1
)

var fileMagic = [4]byte{'K', 'V', 'E', 'C'}

// Open loads the arena persisted at path, or returns an empty arena bound to
// path when the file does not exist yet. Later appends go to the same file.
func Open(path string) (*Arena, error) {
	a := &Arena{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("failed to read vector file: %w", err)
	}
	if len(data) == 0 {
		return a, nil
	}
	if len(data) < headerSize {
		if err := os.Truncate(path, 0); err != nil {
			return nil, fmt.Errorf("failed to drop torn header: %w", err)
		}
		return a, nil
	}
	dim, rows, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	a.dim = dim
	a.data = rows
	if dim > 0 {
		a.n = len(rows) / dim
	}
	if want := int64(headerSize + a.n*a.dim*4); want != int64(len(data)) {
		if err := os.Truncate(path, want); err != nil {
			return nil, fmt.Errorf("failed to drop torn tail: %w", err)
		}
	}
	return a, nil
}

// Decode parses an arena from its persisted form. The result has no backing file.
func Decode(data []byte) (*Arena, error) {
	dim, rows, err := decode(data)
	if err != nil {
		return nil, err
	}
	a := &Arena{dim: dim, data: rows}
	if dim > 0 {
		a.n = len(rows) / dim
	}
	return a, nil
}

func decode(data []byte) (int, []float32, error) {
	if len(data) < headerSize {
		return 0, nil, errors.New("vector file shorter than header")
	}
	if !bytes.Equal(data[:4], fileMagic[:]) {
		return 0, nil, errors.New("bad vector file magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != fileVersion {
		return 0, nil, fmt.Errorf("unsupported vector file version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	body := data[headerSize:]
	if dim == 0 {
		if len(body) != 0 {
			return 0, nil, errors.New("vector rows present without a dimension")
		}
		return 0, nil, nil
	}
	n := len(body) / (dim * 4)
	return dim, bytesToFloat32Slice(body[:n*dim*4]), nil
}

// WriteTo writes the arena in its persisted form.
func (a *Arena) WriteTo(w io.Writer) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, err := w.Write(header(a.dim))
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(float32SliceToBytes(a.data[:a.n*a.dim]))
	return int64(n + m), err
}

// Save writes the arena to path atomically. It does not rebind the arena to path.
func (a *Arena) Save(path string) error {
	err := utils.WriteFileAtomic(path, 0644, func(w io.Writer) error {
		_, err := a.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save vectors: %w", err)
	}
	return nil
}

// appendToFile writes one row (and the header for a fresh file) and fsyncs.
// On failure the file is cut back to its previous length. Caller holds a.mu.
func (a *Arena) appendToFile(vec []float32) error {
	if a.f == nil {
		if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(a.path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		a.f = f
	}

	size := int64(0)
	if a.n > 0 {
		size = int64(headerSize + a.n*a.dim*4)
	}
	var buf []byte
	if a.n == 0 {
		buf = append(buf, header(a.dim)...)
	}
	buf = append(buf, float32SliceToBytes(vec)...)

	if _, err := a.f.WriteAt(buf, size); err != nil {
		_ = a.f.Truncate(size)
		return err
	}
	if err := a.f.Sync(); err != nil {
		_ = a.f.Truncate(size)
		return err
	}
	return nil
}

func header(dim int) []byte {
	h := make([]byte, headerSize)
	copy(h[:4], fileMagic[:])
	binary.LittleEndian.PutUint32(h[4:8], fileVersion)
	binary.LittleEndian.PutUint32(h[8:12], uint32(dim))
	return h
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
