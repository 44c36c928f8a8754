// Package microkit is a line-for-line port of the protection domain's
// user-space API library: message register access and the two
// communication primitives, Notify and PPCall. Every operation here
// is resolved against a Resources bundle passed in explicitly - there
// are no package-level globals, so nothing prevents more than one PD
// being driven from a single process (as the goroutine-based tests
// do) the way a global "current pd" would.
package microkit

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/mikemospan/linux-microkit/ipc"
	"github.com/mikemospan/linux-microkit/registry"
	"github.com/mikemospan/linux-microkit/shared/api"
)

// Resources is everything a running PD needs to satisfy the microkit
// API: its own mapped IPC buffer, its channel table resolved to live
// peer handles, each connected peer's own mapped IPC buffer (PPCall's
// message registers travel through it, not through the pipe), and a
// reply table resolved from PD index to the write end of that PD's
// receive pipe - the index being the only stable identity a SendBack
// field can carry across an exec() boundary.
type Resources struct {
	Self        *registry.PD
	Buffer      []byte
	Peers       map[uint64]*registry.PD
	PeerBuffers map[uint64][]byte
	Callers     map[uint32]*os.File
}

// MapPeerBuffers maps the IPC buffer of every PD reachable through
// peers, keyed by the same channel id peers itself is keyed by, so
// PPCall can find the buffer belonging to whichever peer a channel
// resolves to. A peer reachable through more than one channel is
// mapped only once and the mapping shared, since region.Region.Map
// establishes a fresh mapping on every call and there is no reason to
// hold two independent mappings of the same pages.
func MapPeerBuffers(peers map[uint64]*registry.PD) (map[uint64][]byte, error) {
	mapped := make(map[int][]byte, len(peers))
	out := make(map[uint64][]byte, len(peers))

	for ch, peer := range peers {
		buf, ok := mapped[peer.IPCBuffer.Fd()]
		if !ok {
			var err error

			buf, err = peer.IPCBuffer.Map()
			if err != nil {
				return nil, fmt.Errorf("microkit: mapping peer %d ipc buffer: %w", peer.Index, err)
			}

			mapped[peer.IPCBuffer.Fd()] = buf
		}

		out[ch] = buf
	}

	return out, nil
}

// mrBytes converts a msginfo message-register count into the byte
// window of an IPC buffer it occupies, erroring rather than silently
// truncating a copy if a payload claims more registers than the
// buffer holds.
func mrBytes(count uint8) (int, error) {
	n := int(count) * 8
	if n > api.IPCBufferSize*8 {
		return 0, ipc.Fatalf(ipc.KindConfiguration, "microkit: msginfo count %d exceeds ipc buffer capacity (%d words)", count, api.IPCBufferSize)
	}

	return n, nil
}

// API is the handle a payload's Init receives, bound to one PD's
// Resources.
type API struct {
	res *Resources
}

// New binds an API to res.
func New(res *Resources) *API {
	return &API{res: res}
}

// MrSet writes message register i of the IPC buffer.
func (a *API) MrSet(i uint8, value uint64) {
	off := int(i) * 8
	binary.LittleEndian.PutUint64(a.res.Buffer[off:off+8], value)
}

// MrGet reads message register i of the IPC buffer.
func (a *API) MrGet(i uint8) uint64 {
	off := int(i) * 8
	return binary.LittleEndian.Uint64(a.res.Buffer[off : off+8])
}

// Notify signals channel ch: the peer's Notified callback will observe
// ch the next time its event loop drains its notification endpoint.
// It never blocks on the peer and never fails because the peer is
// busy - only a configuration error (an unconnected channel) or a
// dead peer endpoint is reported.
func (a *API) Notify(ch uint64) error {
	peer, ok := a.res.Peers[ch]
	if !ok {
		return ipc.Fatalf(ipc.KindConfiguration, "microkit: notify: channel %d is not connected", ch)
	}

	if err := peer.Notification.Signal(ch); err != nil {
		return ipc.Fatal(ipc.KindPeer, fmt.Errorf("microkit: notify channel %d: %w", ch, err))
	}

	return nil
}

// PPCall performs a synchronous protected procedure call on channel
// ch: it copies info's message registers from the caller's own IPC
// buffer into the callee's, sends info to the peer bound to ch, blocks
// until that peer's Protected handler replies, copies the reply's
// message registers back out of the callee's buffer into the
// caller's, and returns the reply msginfo - mirroring
// microkit_ppcall's memcpy(receiver->ipc_buffer, proc->ipc_buffer,
// count) before the call and the reverse memcpy after reading the
// reply. Only the msginfo word and the channel id travel over the
// pipe; the message registers travel through the shared IPC buffers.
func (a *API) PPCall(ch uint64, info api.MsgInfo) (api.MsgInfo, error) {
	peer, ok := a.res.Peers[ch]
	if !ok {
		return 0, ipc.Fatalf(ipc.KindConfiguration, "microkit: ppcall: channel %d is not connected", ch)
	}

	peerBuf, ok := a.res.PeerBuffers[ch]
	if !ok {
		return 0, ipc.Fatalf(ipc.KindConfiguration, "microkit: ppcall: channel %d has no mapped peer ipc buffer", ch)
	}

	n, err := mrBytes(info.Count())
	if err != nil {
		return 0, err
	}

	copy(peerBuf[:n], a.res.Buffer[:n])

	msg := api.Message{Ch: ch, Info: info, SendBack: uint32(a.res.Self.Index)}
	if err := api.WriteMessage(peer.SendPipe.Write, msg); err != nil {
		return 0, ipc.Fatal(ipc.KindPeer, fmt.Errorf("microkit: ppcall channel %d: sending request: %w", ch, err))
	}

	reply, err := api.ReadReply(a.res.Self.ReceivePipe.Read)
	if err != nil {
		return 0, ipc.Fatal(ipc.KindPeer, fmt.Errorf("microkit: ppcall channel %d: awaiting reply: %w", ch, err))
	}

	replyN, err := mrBytes(reply.Count())
	if err != nil {
		return 0, err
	}

	copy(a.res.Buffer[:replyN], peerBuf[:replyN])

	return reply, nil
}

// Reply writes info as the reply to a caller previously identified by
// sendBack (the Message.SendBack field of the request that produced
// this reply). It is used by the event loop immediately after a
// Protected handler returns; payloads never call it directly.
func Reply(res *Resources, sendBack uint32, info api.MsgInfo) error {
	w, ok := res.Callers[sendBack]
	if !ok {
		return ipc.Fatalf(ipc.KindConfiguration, "microkit: reply: no caller registered at index %d", sendBack)
	}

	if err := api.WriteReply(w, info); err != nil {
		return ipc.Fatal(ipc.KindPeer, fmt.Errorf("microkit: reply to index %d: %w", sendBack, err))
	}

	return nil
}
