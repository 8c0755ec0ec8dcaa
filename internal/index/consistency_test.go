package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_DeleteScenario(t *testing.T) {
	m := newTestManager(t)
	for i, v := range [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}} {
		_, err := m.AddVector(v, []string{"doc_0", "doc_1", "doc_2"}[i])
		require.NoError(t, err)
	}
	records := recordsFor(t, "doc_0", "doc_1", "doc_2")

	h := m.Health(records.Count())
	assert.Equal(t, 3, h.VectorCount)
	assert.Equal(t, 3, h.MappingCount)
	assert.Equal(t, 3, h.RecordCount)
	assert.True(t, h.Consistent)

	_, err := m.DeleteVector("doc_1")
	require.NoError(t, err)
	_, err = records.Remove("doc_1")
	require.NoError(t, err)

	h = m.Health(records.Count())
	assert.Equal(t, 3, h.VectorCount)
	assert.Equal(t, 2, h.MappingCount)
	assert.Equal(t, 2, h.RecordCount)
	assert.Equal(t, 1, h.Tombstones)
	assert.True(t, h.Consistent)
}

func TestHealth_OrphanedMappingIsInconsistent(t *testing.T) {
	m := newTestManager(t)
	_, _ = m.AddVector([]float32{1}, "a")
	_, _ = m.AddVector([]float32{2}, "b")
	records := recordsFor(t, "a")

	h := m.Health(records.Count())
	assert.False(t, h.Consistent)

	report := m.Verify(records)
	assert.False(t, report.OK)
	assert.Equal(t, []string{"b"}, report.MappingsWithoutRecord)
	assert.Empty(t, report.RecordsWithoutMapping)
}

func TestVerify_Clean(t *testing.T) {
	m := newTestManager(t)
	_, _ = m.AddVector([]float32{1}, "a")
	report := m.Verify(recordsFor(t, "a"))
	assert.True(t, report.OK)
	assert.True(t, report.Consistent)
}

// writeLegacyMapping replaces the mapping file of a closed manager.
func writeLegacyMapping(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MappingFile), []byte(body), 0644))
}

func TestVerifyAndReconcile_LegacyDrift(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	for _, v := range [][]float32{{0}, {1}, {2}, {3}} {
		_, err := m.AddVector(v, "tmp")
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	// doc_0 at slots 0 and 2 (duplicate), ghost has no record, slot 9 is past the end,
	// doc_3 has a record but lost its mapping.
	writeLegacyMapping(t, dir, `{"0": "doc_0", "1": "ghost", "2": "doc_0", "9": "doc_1"}`)
	m, err = Open(dir)
	require.NoError(t, err)
	defer m.Close()
	records := recordsFor(t, "doc_0", "doc_1", "doc_3")

	report := m.Verify(records)
	assert.False(t, report.OK)
	assert.Equal(t, []int{9}, report.OutOfRangeSlots)
	assert.Equal(t, []string{"doc_0"}, report.DuplicateMappings)
	assert.Equal(t, []string{"ghost"}, report.MappingsWithoutRecord)
	assert.Equal(t, []string{"doc_3"}, report.RecordsWithoutMapping)

	rec, err := m.Reconcile(context.Background(), ReconcileOptions{Records: records})
	require.NoError(t, err)
	assert.Equal(t, []int{9}, rec.DroppedOutOfRange)
	assert.Equal(t, []int{0}, rec.DroppedDuplicates)
	assert.Equal(t, []string{"ghost"}, rec.DroppedDangling)
	assert.Equal(t, 3, rec.Repaired)
	assert.ElementsMatch(t, []string{"doc_1", "doc_3"}, rec.Unattributable)

	slot, ok := m.FindSlot("doc_0")
	assert.True(t, ok)
	assert.Equal(t, 2, slot)
	assert.Equal(t, 1, m.MappingCount())
}

func TestReconcile_ReattachesByContent(t *testing.T) {
	m := newTestManager(t)
	vecs := map[string][]float32{
		"doc_0": {1, 0},
		"doc_1": {0, 1},
		"doc_2": {1, 1},
	}
	for _, id := range []string{"doc_0", "doc_1", "doc_2"} {
		_, err := m.AddVector(vecs[id], id)
		require.NoError(t, err)
	}
	// Lose the mappings of doc_0 and doc_2 while their records survive.
	_, _ = m.DeleteVector("doc_0")
	_, _ = m.DeleteVector("doc_2")
	records := recordsFor(t, "doc_0", "doc_1", "doc_2", "doc_new")
	assert.False(t, m.Health(records.Count()).Consistent)

	embed := func(_ context.Context, want []string) ([][]float32, error) {
		out := make([][]float32, len(want))
		for i, id := range want {
			if v, ok := vecs[id]; ok {
				out[i] = v
			} else {
				out[i] = []float32{7, 7}
			}
		}
		return out, nil
	}
	report, err := m.Reconcile(context.Background(), ReconcileOptions{Records: records, Embed: embed})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_0", "doc_2"}, report.Reattached)
	assert.Equal(t, []string{"doc_new"}, report.Unattributable)
	assert.Equal(t, 2, report.Repaired)

	slot, _ := m.FindSlot("doc_2")
	assert.Equal(t, 2, slot)

	report, err = m.Reconcile(context.Background(), ReconcileOptions{Records: records, Embed: embed, Reappend: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_new"}, report.Reappended)
	assert.Empty(t, report.Unattributable)
	assert.True(t, report.Health.Consistent)
	assert.Equal(t, 4, report.Health.VectorCount)
}

func TestReconcile_EmbedErrors(t *testing.T) {
	m := newTestManager(t)
	_, _ = m.AddVector([]float32{1, 0}, "a")
	_, _ = m.DeleteVector("a")
	records := recordsFor(t, "a")

	boom := errors.New("embedder down")
	_, err := m.Reconcile(context.Background(), ReconcileOptions{
		Records: records,
		Embed:   func(context.Context, []string) ([][]float32, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.Reconcile(context.Background(), ReconcileOptions{})
	assert.Error(t, err)
}

func TestReconcile_NothingToDo(t *testing.T) {
	m := newTestManager(t)
	_, _ = m.AddVector([]float32{1}, "a")
	report, err := m.Reconcile(context.Background(), ReconcileOptions{Records: recordsFor(t, "a")})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Repaired)
	assert.True(t, report.Health.Consistent)
}
