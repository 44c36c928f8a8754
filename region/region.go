// Package region implements the host-shared memory regions Microkit
// system descriptions declare: named buffers mapped with identical
// contents into every protection domain that binds them.
//
// Anonymous MAP_SHARED mappings (what the original seL4 Microkit
// emulator this runtime reimplements relies on) only stay shared
// across a fork() that never calls exec() - the mapping is simply
// duplicated in the child's address space. This runtime spawns each
// PD with exec (see loader.Supervisor.SpawnAll), which discards the parent's
// address space entirely, so an anonymous mapping can't be handed
// down that way. A Linux memfd gives the same "anonymous, no backing
// file on disk" property but is reachable through a file descriptor,
// so it survives exec() the same way a pipe or eventfd does: every PD
// that needs the region is handed the memfd and calls Map itself.
package region

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Region is a single named shared-memory buffer.
type Region struct {
	Name string
	Size uint64
	fd   int
	file *os.File
}

// Create allocates a new memfd-backed region of the given size. The
// returned Region owns fd until Close is called.
func Create(name string, size uint64) (*Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("region %q: size must be > 0", name)
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("region %q: memfd_create: %w", name, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("region %q: ftruncate: %w", name, err)
	}

	return &Region{Name: name, Size: size, fd: fd, file: os.NewFile(uintptr(fd), name)}, nil
}

// Open wraps an already-open memfd inherited from a parent process -
// used by a spawned PD to reattach to a region created before it
// existed.
func Open(name string, fd int, size uint64) *Region {
	return &Region{Name: name, Size: size, fd: fd, file: os.NewFile(uintptr(fd), name)}
}

// Fd returns the underlying file descriptor number. Use File instead
// when the caller needs an *os.File (e.g. for os/exec's ExtraFiles) -
// Fd is for the rare caller that only needs the bare number, such as a
// map key for deduplication.
func (r *Region) Fd() int {
	return r.fd
}

// File returns the *os.File wrapper owned by this Region, for passing
// to a child process via os/exec's ExtraFiles. It is created once and
// cached: an *os.File's finalizer closes its underlying fd when
// collected, so handing out a fresh wrapper around the same fd on
// every call would leave several independently-GC'd wrappers racing
// to close one fd out from under every other live use of it.
func (r *Region) File() *os.File {
	return r.file
}

// Map establishes this process's own mapping of the region. Every PD
// that binds the region calls this independently; the kernel may
// choose a different virtual address in each process, but all
// mappings back the same physical pages, so writes in one PD are
// visible to reads in another once the write has happened-before the
// read from the PDs' own synchronization (typically a notification).
func (r *Region) Map() ([]byte, error) {
	data, err := unix.Mmap(r.fd, 0, int(r.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("region %q: mmap: %w", r.Name, err)
	}

	return data, nil
}

// Unmap releases a mapping previously returned by Map.
func Unmap(data []byte) error {
	if data == nil {
		return nil
	}

	return unix.Munmap(data)
}

// Close releases the region's backing memfd, via the same *os.File
// File returns, so there is exactly one owner of the underlying fd.
// It does not unmap any live mappings; callers must Unmap first.
func (r *Region) Close() error {
	if r.fd < 0 {
		return nil
	}

	err := r.file.Close()
	r.fd = -1
	return err
}
