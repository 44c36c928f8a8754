// Package loader turns a system description into a populated registry
// and then into a set of running processes: one per declared
// protection domain, each re-exec'd from this same binary with the
// file descriptors it needs for its notification endpoint, its two
// pipes, every other PD's corresponding handles (the "full fan-out"
// connectivity model - every PD inherits the means to reach every
// other, with the channel table remaining the sole authorization
// gate), and its shared-memory bindings.
package loader

import (
	"encoding/json"
	"os"
	"os/exec"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mikemospan/linux-microkit/registry"
	"github.com/mikemospan/linux-microkit/shared/api"
	"github.com/mikemospan/linux-microkit/shared/subprocess"
	"github.com/mikemospan/linux-microkit/sysdesc"
)

// Load populates reg from desc: regions first, then PDs, then
// bindings and channels, matching the invariant that every region
// named in a binding must already exist before any PD referencing it
// can be spawned.
func Load(reg *registry.Registry, desc *sysdesc.Description) error {
	for _, r := range desc.Regions {
		if _, err := reg.CreateRegion(r.Name, r.Size); err != nil {
			return err
		}
	}

	for _, p := range desc.PDs {
		pd, err := reg.CreatePD(p.Name, p.StackSize)
		if err != nil {
			return err
		}

		pd.PayloadPath = p.Payload
	}

	for _, b := range desc.Bindings {
		if err := reg.BindRegion(b.PD, b.Region, b.Var); err != nil {
			return err
		}
	}

	for _, c := range desc.Channels {
		if err := reg.Connect(c.From, c.To, c.Ch); err != nil {
			return err
		}
	}

	return nil
}

// wireConfig is what a spawned PD reads from its config file: the
// resources it needs, described as indices into its own ExtraFiles
// slice rather than raw fd numbers, since os/exec renumbers
// ExtraFiles starting at fd 3 in the child regardless of what the fd
// was numbered in the parent.
type wireConfig struct {
	Name            string `json:"name"`
	RunID           string `json:"run_id"`
	Index           int    `json:"index"`
	Payload         string `json:"payload"`
	StackSize       uint32 `json:"stack_size"`
	SelfNotifFD     int    `json:"self_notif_fd"`
	SelfNotifMaskFD int    `json:"self_notif_mask_fd"`
	SelfSendReadFD  int    `json:"self_send_read_fd"`
	SelfRecvReadFD  int    `json:"self_recv_read_fd"`
	SelfIPCBufFD    int    `json:"self_ipc_buf_fd"`
	IPCBufSize      uint64 `json:"ipc_buf_size"`

	// Channels is this PD's channel table: local channel id to the
	// index of the peer PD it is connected to.
	Channels []wireChannel `json:"channels"`

	// Peers carries, for every other PD in the system, the fds this
	// PD needs to notify it, send it PPC requests, and reply to its
	// PPC requests - the full fan-out set, independent of which
	// channels are actually connected.
	Peers []wirePeerFD `json:"peers"`

	Binds []wireBind `json:"binds"`
}

type wireChannel struct {
	Ch        uint64 `json:"ch"`
	PeerIndex int    `json:"peer_index"`
}

type wirePeerFD struct {
	PeerIndex   int    `json:"peer_index"`
	NotifFD     int    `json:"notif_fd"`
	NotifMaskFD int    `json:"notif_mask_fd"`
	SendWriteFD int    `json:"send_write_fd"`
	RecvWriteFD int    `json:"recv_write_fd"`

	// IPCBufFD/IPCBufSize let this PD map the peer's IPC buffer too,
	// the channel PPCall copies message registers through (see
	// microkit.MapPeerBuffers): the caller's ppcall stub writes the
	// request's words directly into the callee's buffer before
	// dispatch, and reads the reply's words back out of it afterward,
	// mirroring microkit_ppcall's direct memcpy between two
	// address-visible ipc_buffer arrays.
	IPCBufFD   int    `json:"ipc_buf_fd"`
	IPCBufSize uint64 `json:"ipc_buf_size"`
}

type wireBind struct {
	RegionFD   int    `json:"region_fd"`
	RegionSize uint64 `json:"region_size"`
	VarName    string `json:"var_name"`
}

// fdSlots accumulates the *os.File values destined for one child's
// ExtraFiles, handing back the 0-based slot each one was assigned.
type fdSlots struct {
	files []*os.File
}

func (s *fdSlots) add(f *os.File) int {
	s.files = append(s.files, f)
	return len(s.files) - 1
}

// Supervisor owns the set of spawned PD processes for one running
// system.
type Supervisor struct {
	reg   *registry.Registry
	cmds  map[string]*exec.Cmd
	RunID string
}

// NewSupervisor wraps an already-loaded registry. RunID correlates every
// spawned PD's logs back to this one run, the same way LXD stamps a
// uuid onto each operation (e.g. lxd/backup.go's backup ids) so
// unrelated log lines can be told apart after the fact.
func NewSupervisor(reg *registry.Registry) *Supervisor {
	return &Supervisor{reg: reg, cmds: make(map[string]*exec.Cmd), RunID: uuid.New().String()}
}

// SpawnAll starts every PD in reg as a child process.
func (s *Supervisor) SpawnAll() error {
	pds := s.reg.PDs()

	for _, pd := range pds {
		if err := s.spawn(pd, pds); err != nil {
			return errors.Wrapf(err, "loader: spawning pd %q", pd.Name)
		}
	}

	return nil
}

func (s *Supervisor) spawn(pd *registry.PD, all []*registry.PD) error {
	slots := &fdSlots{}

	cfg := wireConfig{
		Name:            pd.Name,
		RunID:           s.RunID,
		Index:           pd.Index,
		Payload:         pd.PayloadPath,
		StackSize:       pd.StackSize,
		SelfNotifFD:     slots.add(pd.Notification.File()),
		SelfNotifMaskFD: slots.add(pd.Notification.MaskFile()),
		SelfSendReadFD:  slots.add(pd.SendPipe.Read),
		SelfRecvReadFD:  slots.add(pd.ReceivePipe.Read),
		SelfIPCBufFD:    slots.add(pd.IPCBuffer.File()),
		IPCBufSize:      api.IPCBufferSize * 8,
	}

	for ch, peer := range pd.Channels() {
		cfg.Channels = append(cfg.Channels, wireChannel{Ch: ch, PeerIndex: peer.Index})
	}

	for _, peer := range all {
		if peer.Name == pd.Name {
			continue
		}

		cfg.Peers = append(cfg.Peers, wirePeerFD{
			PeerIndex:   peer.Index,
			NotifFD:     slots.add(peer.Notification.File()),
			NotifMaskFD: slots.add(peer.Notification.MaskFile()),
			SendWriteFD: slots.add(peer.SendPipe.Write),
			RecvWriteFD: slots.add(peer.ReceivePipe.Write),
			IPCBufFD:    slots.add(peer.IPCBuffer.File()),
			IPCBufSize:  peer.IPCBuffer.Size,
		})
	}

	for _, b := range pd.Binds() {
		cfg.Binds = append(cfg.Binds, wireBind{
			RegionFD:   slots.add(b.Region.File()),
			RegionSize: b.Region.Size,
			VarName:    b.VarName,
		})
	}

	sortWireConfig(&cfg)

	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}

	configPath, err := subprocess.WriteConfig(pd.Name, data)
	if err != nil {
		return err
	}

	cmd := subprocess.Command(pd.Name, configPath, slots.files)
	if err := cmd.Start(); err != nil {
		os.Remove(configPath)
		return errors.Wrap(err, "starting process")
	}

	s.cmds[pd.Name] = cmd
	return nil
}

// sortWireConfig orders the slices that have no other ordering
// guarantee, so two runs over the same registry produce byte-identical
// config files - useful when diffing a captured config during
// debugging.
func sortWireConfig(cfg *wireConfig) {
	sort.Slice(cfg.Channels, func(i, j int) bool { return cfg.Channels[i].Ch < cfg.Channels[j].Ch })
	sort.Slice(cfg.Peers, func(i, j int) bool { return cfg.Peers[i].PeerIndex < cfg.Peers[j].PeerIndex })
}

// Wait blocks until every spawned PD has exited and returns the first
// non-nil error encountered, if any.
func (s *Supervisor) Wait() error {
	var firstErr error

	for name, cmd := range s.cmds {
		if err := cmd.Wait(); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "pd %s", name)
			}
		}
	}

	return firstErr
}

// Signal delivers sig to every spawned PD, used for an orderly
// shutdown from a terminal signal.
func (s *Supervisor) Signal(sig os.Signal) {
	for _, cmd := range s.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(sig)
		}
	}
}
