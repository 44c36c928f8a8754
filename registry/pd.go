package registry

import (
	"sync"

	"github.com/mikemospan/linux-microkit/ipc"
	"github.com/mikemospan/linux-microkit/region"
	"github.com/mikemospan/linux-microkit/shared/api"
)

// Binding is one entry of a PD's shared-memory bind list: a region
// bound to a variable name the payload exports.
type Binding struct {
	Region  *Region
	VarName string
}

// PD is a protection domain record, owned exclusively by the Registry
// that created it. Index is its stable position within the system,
// used as the wire identity embedded in PPC reply-routing records
// (see shared/api.Message.SendBack) since raw file descriptor numbers
// are not stable across a PD's exec() boundary.
type PD struct {
	Name        string
	Index       int
	StackSize   uint32
	PayloadPath string

	Notification *ipc.Endpoint
	SendPipe     *ipc.Pipe
	ReceivePipe  *ipc.Pipe
	IPCBuffer    *region.Region

	mu       sync.Mutex
	channels map[uint64]*PD
	binds    []Binding
	spawned  bool
}

func newPD(name string, index int, stackSize uint32) (*PD, error) {
	notif, err := ipc.NewEndpoint()
	if err != nil {
		return nil, err
	}

	sendPipe, err := ipc.NewPipe(name + "-send")
	if err != nil {
		return nil, err
	}

	recvPipe, err := ipc.NewPipe(name + "-recv")
	if err != nil {
		return nil, err
	}

	ipcBuf, err := region.Create(name+"-ipcbuf", api.IPCBufferSize*8)
	if err != nil {
		return nil, err
	}

	return &PD{
		Name:         name,
		Index:        index,
		StackSize:    stackSize,
		Notification: notif,
		SendPipe:     sendPipe,
		ReceivePipe:  recvPipe,
		IPCBuffer:    ipcBuf,
		channels:     make(map[uint64]*PD),
	}, nil
}

// Peer resolves a channel id in this PD's channel table.
func (p *PD) Peer(ch uint64) (*PD, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	peer, ok := p.channels[ch]
	return peer, ok
}

// Channels returns a snapshot of this PD's channel table.
func (p *PD) Channels() map[uint64]*PD {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[uint64]*PD, len(p.channels))
	for ch, peer := range p.channels {
		out[ch] = peer
	}

	return out
}

// Binds returns a snapshot of this PD's shared-memory bind list.
func (p *PD) Binds() []Binding {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Binding, len(p.binds))
	copy(out, p.binds)
	return out
}

func (p *PD) close() error {
	var firstErr error

	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(p.Notification.Close())
	record(p.SendPipe.Close())
	record(p.ReceivePipe.Close())
	record(p.IPCBuffer.Close())

	return firstErr
}
