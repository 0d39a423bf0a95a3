package cmd

import (
	"bytes"
	"io"
	"os"

	"github.com/sarchlab/nachosvm/config"
	"github.com/sarchlab/nachosvm/filesys"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/noff"
	"github.com/sarchlab/nachosvm/userprog"
)

const (
	programName = "prog"

	// forkEntry is the PC a forked toucher starts at.
	forkEntry = 0x7ff0
)

// touchPages returns the program run for an executable. It reads the first
// byte of every page and writes the pages past the code segment. With fork
// set, a child repeats the writes on its copy-on-write pages and the parent
// exits with the child's status.
func touchPages(h noff.Header, cfg config.Config, fork bool) func(m *machine.Sim) {
	numPages := h.NumPages(cfg.UserStackSize, cfg.PageSize)
	firstWritable := (h.Code.End() + cfg.PageSize - 1) / cfg.PageSize

	touch := func(m *machine.Sim, value byte) bool {
		for vpn := range numPages {
			addr := vpn * cfg.PageSize

			if _, exc := m.LoadByte(addr); exc != machine.NoException {
				return false
			}

			if vpn < firstWritable {
				continue
			}

			if exc := m.StoreByte(addr, value); exc != machine.NoException {
				return false
			}
		}

		return true
	}

	return func(m *machine.Sim) {
		if m.ReadRegister(machine.PCReg) == forkEntry {
			if touch(m, 2) {
				m.Syscall(userprog.SCExit, 0)
			}

			return
		}

		if !touch(m, 1) {
			return
		}

		if fork {
			child := m.Syscall(userprog.SCFork, forkEntry)
			m.Syscall(userprog.SCExit, m.Syscall(userprog.SCJoin, child))

			return
		}

		m.Syscall(userprog.SCExit, 0)
	}
}

// newKernel builds a kernel whose file system holds image as the program.
func newKernel(
	cfg config.Config,
	image []byte,
	fork bool,
	out io.Writer,
) (*userprog.Kernel, noff.Header, error) {
	h, err := noff.ReadHeader(bytes.NewReader(image))
	if err != nil {
		return nil, h, err
	}

	fs := filesys.NewMemFS()
	fs.WriteFile(programName, image)

	k := userprog.MakeBuilder().
		WithConfig(cfg).
		WithFileSystem(fs).
		WithConsole(machine.NewStreamConsole(os.Stdin, out)).
		WithProgram(programName, touchPages(h, cfg, fork)).
		Build()

	return k, h, nil
}
