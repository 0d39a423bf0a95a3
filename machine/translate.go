package machine

// A TranslationEntry maps one virtual page to a physical frame. The entry at
// index i of a page table always describes virtual page i.
type TranslationEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool
	Use          bool
	Dirty        bool
	ReadOnly     bool
}

// NewTranslationEntry returns an unmapped entry for the virtual page.
func NewTranslationEntry(virtualPage int) TranslationEntry {
	return TranslationEntry{
		VirtualPage:  virtualPage,
		PhysicalPage: -1,
	}
}

// Resident reports whether the page currently occupies a frame.
func (e TranslationEntry) Resident() bool {
	return e.Valid && e.PhysicalPage >= 0
}

// Unmap marks the entry as not resident.
func (e *TranslationEntry) Unmap() {
	e.Valid = false
	e.PhysicalPage = -1
}
