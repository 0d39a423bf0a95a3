package machine

import (
	"bufio"
	"io"
	"sync"
)

// StreamConsole is a console connected to a pair of byte streams.
type StreamConsole struct {
	sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewStreamConsole creates a console that reads from in and writes to out.
func NewStreamConsole(in io.Reader, out io.Writer) *StreamConsole {
	return &StreamConsole{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// PutChar writes one character to the terminal.
func (c *StreamConsole) PutChar(ch byte) {
	c.Lock()
	defer c.Unlock()

	_, _ = c.out.Write([]byte{ch})
}

// GetChar reads one character. It returns io.EOF when the input is closed.
func (c *StreamConsole) GetChar() (byte, error) {
	c.Lock()
	defer c.Unlock()

	return c.in.ReadByte()
}
