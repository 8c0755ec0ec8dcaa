// Package vector provides the append-only vector arena that backs every
// bundle. Vectors are addressed only by slot (append position); the arena
// knows nothing about chunk identity.
package vector

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hyperjump/kioku/internal/errs"
)

// Neighbor is one kNN candidate: a slot and its squared L2 distance to the query.
type Neighbor struct {
	Slot     int
	Distance float32
}

// Arena is an append-only collection of fixed-dimension vectors with exact
// squared-L2 search. The dimension is unset (0) until the first append.
//
// When the arena has a backing path every append is written to the tail of
// the file and fsynced before it becomes visible.
type Arena struct {
	mu   sync.RWMutex
	dim  int
	data []float32
	n    int

	path string
	f    *os.File
}

// NewArena returns an empty arena with no backing file.
func NewArena() *Arena {
	return &Arena{}
}

// Dimension returns the bound dimension, or 0 when no vector was appended yet.
func (a *Arena) Dimension() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dim
}

// Len returns the number of stored vectors, tombstones included.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.n
}

// Path returns the backing file path, or "" for an in-memory arena.
func (a *Arena) Path() string {
	return a.path
}

// BindOrCheck binds dim when the arena is unbound, otherwise checks it.
func (a *Arena) BindOrCheck(dim int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bindOrCheck(dim)
}

func (a *Arena) bindOrCheck(dim int) error {
	if dim <= 0 {
		return errs.Invalid("vector dimension must be positive, got %d", dim)
	}
	if a.dim == 0 {
		a.dim = dim
		return nil
	}
	if a.dim != dim {
		return &errs.DimensionMismatchError{Expected: a.dim, Actual: dim}
	}
	return nil
}

// Append stores vec and returns its slot, which is the previous count.
func (a *Arena) Append(vec []float32) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	wasUnbound := a.dim == 0
	if err := a.bindOrCheck(len(vec)); err != nil {
		return 0, err
	}
	if a.path != "" {
		if err := a.appendToFile(vec); err != nil {
			if wasUnbound && a.n == 0 {
				a.dim = 0
			}
			return 0, errs.Persistence("append vector", a.path, err)
		}
	}
	slot := a.n
	a.data = append(a.data, vec...)
	a.n++
	return slot, nil
}

// Vector returns a copy of the vector stored at slot.
func (a *Arena) Vector(slot int) ([]float32, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if slot < 0 || slot >= a.n {
		return nil, fmt.Errorf("slot %d out of range [0, %d)", slot, a.n)
	}
	out := make([]float32, a.dim)
	copy(out, a.row(slot))
	return out, nil
}

func (a *Arena) row(slot int) []float32 {
	return a.data[slot*a.dim : (slot+1)*a.dim]
}

// KNN returns up to limit slots ordered by ascending squared L2 distance to
// query, ties broken by lower slot. Every stored vector is scanned.
func (a *Arena) KNN(query []float32, limit int) ([]Neighbor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.n == 0 || limit <= 0 {
		return nil, nil
	}
	if len(query) != a.dim {
		return nil, &errs.DimensionMismatchError{Expected: a.dim, Actual: len(query)}
	}

	all := make([]Neighbor, a.n)
	for slot := 0; slot < a.n; slot++ {
		all[slot] = Neighbor{Slot: slot, Distance: SquaredL2(query, a.row(slot))}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance != all[j].Distance {
			return all[i].Distance < all[j].Distance
		}
		return all[i].Slot < all[j].Slot
	})
	if limit > len(all) {
		limit = len(all)
	}
	return all[:limit], nil
}

// Close releases the backing file handle.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}
