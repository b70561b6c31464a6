// Package vocab implements the append-only string intern table shared by
// string columns. Interned indices are stable for the lifetime of the
// vocabulary, so equal indices denote equal strings across every column that
// borrows the same table.
package vocab

import "fmt"

// Vocabulary maps strings to monotonically assigned indices. It is
// append-only: entries are never removed or reordered, which lets readers
// observe an immutable prefix while a batch appends.
type Vocabulary struct {
	strings []string
	index   map[string]uint64
}

func New() *Vocabulary {
	return &Vocabulary{index: make(map[string]uint64)}
}

// Intern returns the index of s, inserting it if unseen.
func (v *Vocabulary) Intern(s string) uint64 {
	if idx, ok := v.index[s]; ok {
		return idx
	}
	idx := uint64(len(v.strings))
	v.strings = append(v.strings, s)
	v.index[s] = idx
	return idx
}

// Lookup returns the string at idx. Out-of-range indices are a programmer
// error.
func (v *Vocabulary) Lookup(idx uint64) string {
	if idx >= uint64(len(v.strings)) {
		panic(fmt.Sprintf("vocab: index %d out of range (size %d)", idx, len(v.strings)))
	}
	return v.strings[idx]
}

// Contains reports whether s has been interned.
func (v *Vocabulary) Contains(s string) bool {
	_, ok := v.index[s]
	return ok
}

// Size returns the number of interned strings.
func (v *Vocabulary) Size() int { return len(v.strings) }
