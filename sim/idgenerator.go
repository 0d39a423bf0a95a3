package sim

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// GenerateInt returns the next numeric ID. IDs start from 1.
	GenerateInt() int

	// RunName returns a globally unique name for a kernel run.
	RunName() string
}

// NewIDGenerator returns a sequential IDGenerator. Numeric IDs are
// deterministic; run names are not.
func NewIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID int64
}

func (g *sequentialIDGenerator) GenerateInt() int {
	return int(atomic.AddInt64(&g.nextID, 1))
}

func (g *sequentialIDGenerator) RunName() string {
	return xid.New().String()
}
