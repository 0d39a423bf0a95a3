// Package process keeps track of user processes and of the parent-child
// relation Join relies on.
package process

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/sim"
	"github.com/sarchlab/nachosvm/threads"
	"github.com/sarchlab/nachosvm/vm"
)

// A ChildRecord is what a parent keeps about one child: its id, its exit
// status once known, and the semaphore the child signals on exit.
type ChildRecord struct {
	ID   int
	Name string

	mu     sync.Mutex
	status int
	exited bool
	done   *threads.Semaphore
}

// NewChildRecord creates the record of a running child.
func NewChildRecord(id int, name string) *ChildRecord {
	return &ChildRecord{
		ID:   id,
		Name: name,
		done: threads.NewSemaphore(fmt.Sprintf("%s-%d-exit", name, id), 0),
	}
}

// Exit stores the exit status and wakes the joiner. Only the first call has
// an effect.
func (r *ChildRecord) Exit(status int) {
	r.mu.Lock()
	if r.exited {
		r.mu.Unlock()
		return
	}

	r.status = status
	r.exited = true
	r.mu.Unlock()

	r.done.V()
}

// Exited reports whether the child has exited.
func (r *ChildRecord) Exited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.exited
}

// Wait blocks until the child exits and returns its status.
func (r *ChildRecord) Wait() int {
	r.done.P()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

// Children maps child ids to records.
type Children struct {
	sync.Mutex
	records map[int]*ChildRecord
}

// NewChildren creates an empty set.
func NewChildren() *Children {
	return &Children{records: make(map[int]*ChildRecord)}
}

// Add registers a child.
func (c *Children) Add(r *ChildRecord) {
	c.Lock()
	defer c.Unlock()

	c.records[r.ID] = r
}

// Get returns the record of a child.
func (c *Children) Get(id int) (*ChildRecord, bool) {
	c.Lock()
	defer c.Unlock()

	r, ok := c.records[id]

	return r, ok
}

// Len returns the number of children not joined yet.
func (c *Children) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.records)
}

// IDs returns the ids of the children not joined yet, in order.
func (c *Children) IDs() []int {
	c.Lock()
	defer c.Unlock()

	ids := make([]int, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// Join waits for child id to exit, forgets it and returns its status. It
// returns -1 at once if id is not a child, or was joined before.
func (c *Children) Join(id int) int {
	c.Lock()
	r, ok := c.records[id]
	delete(c.records, id)
	c.Unlock()

	if !ok {
		return -1
	}

	return r.Wait()
}

// A Process is a user program with its address space, CPU context and
// children.
type Process struct {
	ID       int
	Name     string
	ParentID int
	Space    *vm.AddrSpace
	Machine  machine.Machine
	Children *Children

	// Record is the entry the parent holds for this process. It is nil for
	// the first process.
	Record *ChildRecord
}

// Exit reports the status to the parent, if there is one.
func (p *Process) Exit(status int) {
	if p.Record != nil {
		p.Record.Exit(status)
	}
}

// Summary describes a process for the monitor.
type Summary struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ParentID  int    `json:"parent_id"`
	NumPages  int    `json:"num_pages"`
	OpenFiles int    `json:"open_files"`
	Children  []int  `json:"children"`
}

// Summarize returns the monitor view of the process.
func (p *Process) Summarize() Summary {
	s := Summary{
		ID:       p.ID,
		Name:     p.Name,
		ParentID: p.ParentID,
		Children: p.Children.IDs(),
	}

	if p.Space != nil {
		s.NumPages = p.Space.NumPages()
		s.OpenFiles = p.Space.Files.InUse()
	}

	return s
}

// Table holds every live process.
type Table struct {
	sync.Mutex
	idGen sim.IDGenerator
	procs map[int]*Process
}

// NewTable creates an empty table. Process ids start from 1.
func NewTable() *Table {
	return &Table{
		idGen: sim.NewIDGenerator(),
		procs: make(map[int]*Process),
	}
}

// Create registers a new process. A non-nil parent gets a child record for
// it.
func (t *Table) Create(
	name string,
	space *vm.AddrSpace,
	m machine.Machine,
	parent *Process,
) *Process {
	p := &Process{
		ID:       t.idGen.GenerateInt(),
		Name:     name,
		Space:    space,
		Machine:  m,
		Children: NewChildren(),
	}

	if space != nil {
		space.SetPID(p.ID)
	}

	if parent != nil {
		p.ParentID = parent.ID
		p.Record = NewChildRecord(p.ID, name)
		parent.Children.Add(p.Record)
	}

	t.Lock()
	t.procs[p.ID] = p
	t.Unlock()

	return p
}

// Get returns a live process.
func (t *Table) Get(id int) (*Process, bool) {
	t.Lock()
	defer t.Unlock()

	p, ok := t.procs[id]

	return p, ok
}

// Remove forgets a process.
func (t *Table) Remove(id int) {
	t.Lock()
	defer t.Unlock()

	delete(t.procs, id)
}

// Len returns the number of live processes.
func (t *Table) Len() int {
	t.Lock()
	defer t.Unlock()

	return len(t.procs)
}

// List returns the live processes ordered by id.
func (t *Table) List() []*Process {
	t.Lock()
	defer t.Unlock()

	list := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list
}
