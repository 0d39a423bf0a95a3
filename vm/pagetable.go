package vm

import "github.com/sarchlab/nachosvm/machine"

type entry = machine.TranslationEntry

// A PageTable holds the translation entries of one address space, indexed by
// virtual page number.
type PageTable struct {
	entries []machine.TranslationEntry
}

// NewPageTable creates a table of n unmapped entries.
func NewPageTable(n int) *PageTable {
	t := &PageTable{}
	t.Grow(n)

	return t
}

// Len returns the number of virtual pages.
func (t *PageTable) Len() int {
	return len(t.entries)
}

// Find returns the entry of a virtual page. The bool return value indicates
// if the page exists.
func (t *PageTable) Find(vpn int) (*machine.TranslationEntry, bool) {
	if vpn < 0 || vpn >= len(t.entries) {
		return nil, false
	}

	return &t.entries[vpn], true
}

// Entries returns the backing slice, as installed on the CPU.
func (t *PageTable) Entries() []machine.TranslationEntry {
	return t.entries
}

// Grow appends n unmapped entries and returns the first new page number.
// Growing may move the backing slice, so the table has to be installed
// again afterwards.
func (t *PageTable) Grow(n int) int {
	start := len(t.entries)
	for i := 0; i < n; i++ {
		t.entries = append(t.entries, machine.NewTranslationEntry(start+i))
	}

	return start
}

// Truncate drops every entry from page n on.
func (t *PageTable) Truncate(n int) {
	if n < len(t.entries) {
		t.entries = t.entries[:n:n]
	}
}

// Clone returns a copy sharing no storage with t.
func (t *PageTable) Clone() *PageTable {
	return &PageTable{
		entries: append([]machine.TranslationEntry(nil), t.entries...),
	}
}
