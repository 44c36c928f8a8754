package ipc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Pipe is one of a PD's two unidirectional message pipes: the send
// pipe (inbound PPC requests) or the receive pipe (inbound PPC
// replies). Multiple peers may hold the write end of the same send
// pipe; POSIX guarantees writes up to PIPE_BUF are atomic, which is
// what keeps concurrent PPC requests from interleaving mid-record.
type Pipe struct {
	Read  *os.File
	Write *os.File
}

// NewPipe creates a fresh OS pipe.
func NewPipe(name string) (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("ipc: pipe %s: %w", name, err)
	}

	return &Pipe{
		Read:  os.NewFile(uintptr(fds[0]), name+"-r"),
		Write: os.NewFile(uintptr(fds[1]), name+"-w"),
	}, nil
}

// Close closes both ends. Safe to call on a Pipe where only one end is
// held locally (the other having been handed to a child process and
// already closed on this side by the exec machinery).
func (p *Pipe) Close() error {
	var firstErr error

	if p.Read != nil {
		if err := p.Read.Close(); err != nil {
			firstErr = err
		}
	}

	if p.Write != nil {
		if err := p.Write.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
