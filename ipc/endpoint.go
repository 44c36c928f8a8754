// Package ipc wraps the primitive endpoints every protection domain is
// built from: a notification endpoint, and the two pipes used for PPC
// requests and replies. Both endpoints expose atomic blob write/read -
// a notification is either fully observed or not observed at all, and
// a pipe record is written and read as one contiguous blob.
package ipc

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/mikemospan/linux-microkit/region"
	"github.com/mikemospan/linux-microkit/shared/api"
)

// Endpoint is a PD's notification endpoint. Readiness is signalled by
// a Linux eventfd in counting (non-semaphore) mode, so concurrent
// notifications on distinct channels - or repeats on the same one -
// collapse into a single readable wakeup, exactly as spec'd: the
// receiver learns which channels fired from a small shared bitmask
// rather than from the eventfd's counter value, which only tells it
// that *something* is pending.
type Endpoint struct {
	fd         int
	file       *os.File
	maskRegion *region.Region
	maskBytes  []byte
	mask       *uint64
}

// NewEndpoint creates a fresh notification endpoint: one eventfd for
// the wakeup signal and one small memfd-backed word for the pending-
// channel bitmask, so the mask survives into a PD spawned via exec().
func NewEndpoint() (*Endpoint, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ipc: eventfd: %w", err)
	}

	maskRegion, err := region.Create("notify-mask", 8)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	maskBytes, err := maskRegion.Map()
	if err != nil {
		_ = unix.Close(fd)
		_ = maskRegion.Close()
		return nil, err
	}

	return &Endpoint{
		fd:         fd,
		file:       os.NewFile(uintptr(fd), "microkit-notification"),
		maskRegion: maskRegion,
		maskBytes:  maskBytes,
		mask:       (*uint64)(ptrOf(maskBytes)),
	}, nil
}

// OpenEndpoint reattaches to a notification endpoint created by
// another process, given the inherited eventfd and mask-memfd
// descriptors.
func OpenEndpoint(fd, maskFD int) (*Endpoint, error) {
	maskRegion := region.Open("notify-mask", maskFD, 8)

	maskBytes, err := maskRegion.Map()
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		fd:         fd,
		file:       os.NewFile(uintptr(fd), "microkit-notification"),
		maskRegion: maskRegion,
		maskBytes:  maskBytes,
		mask:       (*uint64)(ptrOf(maskBytes)),
	}, nil
}

// Fd returns the eventfd, for epoll registration or as a map key - use
// File instead when the caller needs an *os.File to pass on.
func (e *Endpoint) Fd() int {
	return e.fd
}

// MaskFd returns the mask memfd number, for epoll registration or as a
// map key - use MaskFile instead when the caller needs an *os.File.
func (e *Endpoint) MaskFd() int {
	return e.maskRegion.Fd()
}

// File returns the *os.File wrapper owned by this Endpoint around its
// eventfd, for use with os/exec's ExtraFiles or Go's blocking file
// I/O. It is created once and cached for the same reason
// region.Region.File is: an *os.File's finalizer closes its fd when
// collected, and this same Endpoint is handed to spawn() once as
// "self" and again as a "peer" for every other PD in the system, so a
// fresh wrapper per call would leave multiple independently-GC'd
// wrappers racing to close the one eventfd they all share.
func (e *Endpoint) File() *os.File {
	return e.file
}

// MaskFile returns the *os.File wrapper owned by this Endpoint's mask
// region, for the same reason and by the same rule as File.
func (e *Endpoint) MaskFile() *os.File {
	return e.maskRegion.File()
}

// Signal marks ch pending and wakes the endpoint. It never blocks: an
// eventfd write only blocks if the counter would overflow, which
// would require roughly 2^64 un-drained notifications.
func (e *Endpoint) Signal(ch uint64) error {
	if ch >= api.MaxChannelsPerPD {
		return fmt.Errorf("ipc: channel id %d out of range", ch)
	}

	bit := uint64(1) << ch
	for {
		old := atomic.LoadUint64(e.mask)
		if old&bit != 0 {
			break // already pending, no need to CAS
		}

		if atomic.CompareAndSwapUint64(e.mask, old, old|bit) {
			break
		}
	}

	var b [8]byte
	b[0] = 1
	if _, err := unix.Write(e.fd, b[:]); err != nil {
		return fmt.Errorf("ipc: notify: %w", err)
	}

	return nil
}

// Drain blocks until the endpoint is readable, then returns the sorted
// set of channel ids that were pending since the last Drain.
func (e *Endpoint) Drain() ([]uint64, error) {
	var b [8]byte
	if _, err := unix.Read(e.fd, b[:]); err != nil {
		return nil, fmt.Errorf("ipc: drain: %w", err)
	}

	pending := atomic.SwapUint64(e.mask, 0)

	var chans []uint64
	for ch := uint64(0); ch < api.MaxChannelsPerPD; ch++ {
		if pending&(uint64(1)<<ch) != 0 {
			chans = append(chans, ch)
		}
	}

	return chans, nil
}

// Close releases the endpoint's resources: the mask region (and its
// mapping) and the eventfd itself, the latter via the same *os.File
// File returns so there is exactly one owner of that fd.
func (e *Endpoint) Close() error {
	_ = region.Unmap(e.maskBytes)

	maskErr := e.maskRegion.Close()
	fdErr := e.file.Close()

	if fdErr != nil {
		return fdErr
	}

	return maskErr
}
