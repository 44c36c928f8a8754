// Package api defines the wire-level types shared between the loader,
// the per-PD event handler, and the microkit API library: the packed
// msginfo word, the pipe record formats, and the system-wide limits a
// Microkit system is built against.
package api

const (
	// MaxChannelsPerPD is the number of channel ids available to a
	// single protection domain, numbered 0..MaxChannelsPerPD-1.
	MaxChannelsPerPD = 62

	// MaxPDs is the maximum number of protection domains a single
	// system description may declare.
	MaxPDs = 63

	// IPCBufferSize is the number of seL4_Word-sized message
	// registers in a PD's IPC buffer.
	IPCBufferSize = 64

	// msginfoCountBits is the width of the count field at the low end
	// of a msginfo word.
	msginfoCountBits = 7

	// msginfoReservedBits separates the count field from the label
	// field; always zero on encode.
	msginfoReservedBits = 5

	msginfoCountMask = (1 << msginfoCountBits) - 1
	msginfoLabelMask = (1 << 52) - 1
	msginfoLabelShift = msginfoCountBits + msginfoReservedBits
)
