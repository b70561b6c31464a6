// Package state owns the canonical master table and the primary-key to
// row-index mapping over it. Row indices are stable between updates; deleted
// rows are tombstoned into a roaring bitmap and reused by later inserts, so
// lookups stay O(1) and the table never compacts under a live consumer.
package state

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-logr/logr"

	"github.com/l7mp/deltatable/pkg/scalar"
	"github.com/l7mp/deltatable/pkg/table"
)

// RLookup is the result of resolving a primary key against the master
// mapping.
type RLookup struct {
	Exists bool
	Idx    int
}

// State applies flattened batches to the master table.
type State struct {
	log          logr.Logger
	inputSchema  *table.Schema
	outputSchema *table.Schema
	tbl          *table.Table
	mapping      map[scalar.Scalar]int
	free         *roaring.Bitmap
}

// New creates an empty master state over the output schema.
func New(input, output *table.Schema, log logr.Logger) *State {
	return &State{
		log:          log.WithName("state"),
		inputSchema:  input.Clone(),
		outputSchema: output.Clone(),
		tbl:          table.New(output, 0),
		mapping:      make(map[scalar.Scalar]int),
		free:         roaring.New(),
	}
}

// Lookup resolves pkey to its master row index.
func (s *State) Lookup(pkey scalar.Scalar) RLookup {
	idx, ok := s.mapping[pkey.Key()]
	return RLookup{Exists: ok, Idx: idx}
}

// MappingSize returns the number of live keys.
func (s *State) MappingSize() int { return len(s.mapping) }

// Table returns the master table. The returned table is live: it is read
// during transitional writes and mutated by UpdateMasterTable.
func (s *State) Table() *table.Table { return s.tbl }

// InputSchema returns the schema fragments are validated against.
func (s *State) InputSchema() *table.Schema { return s.inputSchema }

// OutputSchema returns the master schema.
func (s *State) OutputSchema() *table.Schema { return s.outputSchema }

// UpdateMasterTable applies a flattened batch: inserts new rows (reusing
// tombstoned indices), overwrites existing rows cell-by-cell for cells valid
// in the batch, and tombstones rows deleted by the batch. Deletes of unknown
// keys are ignored.
func (s *State) UpdateMasterTable(batch *table.Table) {
	n := batch.NumRows()
	for i := 0; i < n; i++ {
		op := batch.Op(i)
		pkey := batch.PKey(i)
		switch op {
		case table.OpInsert:
			lk := s.Lookup(pkey)
			if lk.Exists {
				s.overwriteRow(lk.Idx, batch, i)
			} else {
				s.insertRow(pkey, batch, i)
			}
		case table.OpDelete:
			lk := s.Lookup(pkey)
			if !lk.Exists {
				continue
			}
			s.tombstone(pkey, lk.Idx)
		default:
			panic(fmt.Sprintf("state: unknown op %d at row %d", op, i))
		}
	}
	s.log.V(4).Info("master table updated", "batch-rows", n, "mapping-size", len(s.mapping))
}

// PKeyedTable returns the primary-keyed master view without copying.
// Tombstoned rows are still physically present with an invalid psp_pkey
// cell; consumers skip rows whose pkey is invalid.
func (s *State) PKeyedTable() *table.Table { return s.tbl }

// SortedPKeyedTable returns a copy of the live rows sorted by primary key.
func (s *State) SortedPKeyedTable() *table.Table {
	live := s.liveRows()
	sort.Slice(live, func(a, b int) bool {
		return s.tbl.PKey(live[a]).Less(s.tbl.PKey(live[b]))
	})
	return s.rowsTable(live)
}

// RowDataPKeys returns a table holding the master rows for the given keys,
// in argument order, skipping keys that do not resolve.
func (s *State) RowDataPKeys(pkeys []scalar.Scalar) *table.Table {
	rows := make([]int, 0, len(pkeys))
	for _, pkey := range pkeys {
		if lk := s.Lookup(pkey); lk.Exists {
			rows = append(rows, lk.Idx)
		}
	}
	return s.rowsTable(rows)
}

// Reset drops all rows and mappings, keeping the schema.
func (s *State) Reset() {
	s.tbl.Clear()
	s.mapping = make(map[scalar.Scalar]int)
	s.free.Clear()
}

// PromoteColumn widens a master column in place. Promoting the primary-key
// column re-keys the mapping, since the promotion may change the key class.
func (s *State) PromoteColumn(name string, to scalar.DType) {
	s.tbl.PromoteColumn(name, to)
	s.outputSchema.Retype(name, to)
	if s.inputSchema.Has(name) {
		s.inputSchema.Retype(name, to)
	}
	if name == table.PKeyColumn {
		rekeyed := make(map[scalar.Scalar]int, len(s.mapping))
		for _, idx := range s.mapping {
			rekeyed[s.tbl.PKey(idx).Key()] = idx
		}
		s.mapping = rekeyed
	}
}

func (s *State) insertRow(pkey scalar.Scalar, batch *table.Table, i int) {
	var idx int
	if !s.free.IsEmpty() {
		idx = int(s.free.Minimum())
		s.free.Remove(uint32(idx))
	} else {
		idx = s.tbl.NumRows()
		s.tbl.SetNumRows(idx + 1)
	}
	for _, name := range s.tbl.ColumnNames() {
		dst := s.tbl.Column(name)
		if name == table.OpColumn {
			dst.SetUint(idx, uint64(table.OpInsert))
			continue
		}
		if !batch.HasColumn(name) {
			dst.SetValid(idx, false)
			continue
		}
		dst.CopyCell(idx, batch.Column(name), i)
	}
	s.mapping[pkey.Key()] = idx
}

func (s *State) overwriteRow(idx int, batch *table.Table, i int) {
	for _, name := range s.tbl.ColumnNames() {
		if name == table.PKeyColumn || name == table.OpColumn {
			continue
		}
		if !batch.HasColumn(name) {
			continue
		}
		src := batch.Column(name)
		if src.IsValid(i) {
			s.tbl.Column(name).CopyCell(idx, src, i)
		}
	}
}

func (s *State) tombstone(pkey scalar.Scalar, idx int) {
	for _, name := range s.tbl.ColumnNames() {
		s.tbl.Column(name).SetValid(idx, false)
	}
	delete(s.mapping, pkey.Key())
	s.free.Add(uint32(idx))
}

func (s *State) liveRows() []int {
	rows := make([]int, 0, len(s.mapping))
	for _, idx := range s.mapping {
		rows = append(rows, idx)
	}
	sort.Ints(rows)
	return rows
}

func (s *State) rowsTable(rows []int) *table.Table {
	out := table.New(s.tbl.Schema(), len(rows))
	out.SetNumRows(len(rows))
	for _, name := range out.ColumnNames() {
		dst := out.Column(name)
		src := s.tbl.Column(name)
		for j, idx := range rows {
			dst.CopyCell(j, src, idx)
		}
	}
	return out
}
