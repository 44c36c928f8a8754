package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/mikemospan/linux-microkit/binder"
	"github.com/mikemospan/linux-microkit/ipc"
	"github.com/mikemospan/linux-microkit/microkit"
	"github.com/mikemospan/linux-microkit/region"
	"github.com/mikemospan/linux-microkit/registry"
)

// extraFileBase is the first fd a child process's ExtraFiles occupy;
// os/exec always renumbers them starting here, regardless of what fd
// number they held in the parent.
const extraFileBase = 3

func extraFd(slot int) int {
	return extraFileBase + slot
}

// LoadPD reads a spawned PD's config file (written by Supervisor.spawn
// and named on the command line) and reconstructs the microkit.
// Resources it needs to run, along with its resolved shared-memory
// bind list and the run id its parent stamped on every PD it spawned.
// It removes the config file once read.
func LoadPD(configPath string) (name, payloadPath, runID string, res *microkit.Resources, binds []binder.Bind, err error) {
	defer os.Remove(configPath)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", "", "", nil, nil, errors.Wrapf(err, "loader: reading config %s", configPath)
	}

	var cfg wireConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", "", "", nil, nil, errors.Wrapf(err, "loader: parsing config %s", configPath)
	}

	selfNotif, err := ipc.OpenEndpoint(extraFd(cfg.SelfNotifFD), extraFd(cfg.SelfNotifMaskFD))
	if err != nil {
		return "", "", "", nil, nil, errors.Wrap(err, "loader: reattaching notification endpoint")
	}

	self := &registry.PD{
		Name:         cfg.Name,
		Index:        cfg.Index,
		StackSize:    cfg.StackSize,
		PayloadPath:  cfg.Payload,
		Notification: selfNotif,
		SendPipe:     &ipc.Pipe{Read: os.NewFile(uintptr(extraFd(cfg.SelfSendReadFD)), cfg.Name+"-send-r")},
		ReceivePipe:  &ipc.Pipe{Read: os.NewFile(uintptr(extraFd(cfg.SelfRecvReadFD)), cfg.Name+"-recv-r")},
		IPCBuffer:    region.Open(cfg.Name+"-ipcbuf", extraFd(cfg.SelfIPCBufFD), cfg.IPCBufSize),
	}

	ipcBuf, err := self.IPCBuffer.Map()
	if err != nil {
		return "", "", "", nil, nil, errors.Wrap(err, "loader: mapping ipc buffer")
	}

	peersByIndex := make(map[int]*registry.PD, len(cfg.Peers))
	callers := make(map[uint32]*os.File, len(cfg.Peers))

	for _, p := range cfg.Peers {
		notif, err := ipc.OpenEndpoint(extraFd(p.NotifFD), extraFd(p.NotifMaskFD))
		if err != nil {
			return "", "", "", nil, nil, errors.Wrapf(err, "loader: reattaching peer %d notification endpoint", p.PeerIndex)
		}

		peersByIndex[p.PeerIndex] = &registry.PD{
			Index:        p.PeerIndex,
			Notification: notif,
			SendPipe:     &ipc.Pipe{Write: os.NewFile(uintptr(extraFd(p.SendWriteFD)), fmt.Sprintf("peer-%d-send-w", p.PeerIndex))},
			IPCBuffer:    region.Open(fmt.Sprintf("peer-%d-ipcbuf", p.PeerIndex), extraFd(p.IPCBufFD), p.IPCBufSize),
		}

		callers[uint32(p.PeerIndex)] = os.NewFile(uintptr(extraFd(p.RecvWriteFD)), fmt.Sprintf("peer-%d-recv-w", p.PeerIndex))
	}

	peers := make(map[uint64]*registry.PD, len(cfg.Channels))
	for _, c := range cfg.Channels {
		peer, ok := peersByIndex[c.PeerIndex]
		if !ok {
			return "", "", "", nil, nil, fmt.Errorf("loader: channel %d references unknown peer index %d", c.Ch, c.PeerIndex)
		}

		peers[c.Ch] = peer
	}

	peerBuffers, err := microkit.MapPeerBuffers(peers)
	if err != nil {
		return "", "", "", nil, nil, errors.Wrap(err, "loader: mapping peer ipc buffers")
	}

	res = &microkit.Resources{
		Self:        self,
		Buffer:      ipcBuf,
		Peers:       peers,
		PeerBuffers: peerBuffers,
		Callers:     callers,
	}

	binds = make([]binder.Bind, 0, len(cfg.Binds))
	for _, b := range cfg.Binds {
		reg := region.Open(b.VarName, extraFd(b.RegionFD), b.RegionSize)
		binds = append(binds, binder.Bind{Region: reg, VarName: b.VarName})
	}

	return cfg.Name, cfg.Payload, cfg.RunID, res, binds, nil
}
