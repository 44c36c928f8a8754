// Package integration exercises the full eventloop+microkit dispatch
// path against the spec's end-to-end scenarios, using goroutines
// rather than real spawned processes: pipes, eventfds, and memfds
// behave identically whether their other end lives in another
// goroutine of this process or in a genuinely separate one, so this
// harness drives the same code a spawned PD would run without needing
// real process forking or plugin loading.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mikemospan/linux-microkit/binder"
	"github.com/mikemospan/linux-microkit/eventloop"
	"github.com/mikemospan/linux-microkit/microkit"
	"github.com/mikemospan/linux-microkit/payload"
	"github.com/mikemospan/linux-microkit/registry"
)

// system wraps a registry and its derived resources for a test.
type system struct {
	t   *testing.T
	reg *registry.Registry
}

func newSystem(t *testing.T) *system {
	t.Helper()
	return &system{t: t, reg: registry.New()}
}

func (s *system) createPD(name string) *registry.PD {
	s.t.Helper()

	pd, err := s.reg.CreatePD(name, 0)
	if err != nil {
		s.t.Fatalf("creating pd %s: %v", name, err)
	}

	return pd
}

func (s *system) createRegion(name string, size uint64) *registry.Region {
	s.t.Helper()

	reg, err := s.reg.CreateRegion(name, size)
	if err != nil {
		s.t.Fatalf("creating region %s: %v", name, err)
	}

	return reg
}

func (s *system) bind(pd, region, varname string) {
	s.t.Helper()

	if err := s.reg.BindRegion(pd, region, varname); err != nil {
		s.t.Fatalf("binding %s/%s: %v", pd, varname, err)
	}
}

func (s *system) connect(from, to string, ch uint64) {
	s.t.Helper()

	if err := s.reg.Connect(from, to, ch); err != nil {
		s.t.Fatalf("connecting %s->%s ch %d: %v", from, to, ch, err)
	}
}

func (s *system) teardown() {
	if err := s.reg.Teardown(); err != nil {
		s.t.Logf("teardown: %v", err)
	}
}

// resourcesFor builds the microkit.Resources for pd entirely out of
// registry.PD objects already held in-process - there is no exec()
// boundary in this harness, so the real PD records can be reused
// directly instead of reattaching from inherited file descriptors the
// way loader.LoadPD does for a genuinely spawned PD.
func resourcesFor(pd *registry.PD, all []*registry.PD) *microkit.Resources {
	buf, err := pd.IPCBuffer.Map()
	if err != nil {
		panic(err)
	}

	callers := make(map[uint32]*os.File, len(all))
	for _, other := range all {
		callers[uint32(other.Index)] = other.ReceivePipe.Write
	}

	peers := pd.Channels()

	peerBuffers, err := microkit.MapPeerBuffers(peers)
	if err != nil {
		panic(err)
	}

	return &microkit.Resources{
		Self:        pd,
		Buffer:      buf,
		Peers:       peers,
		PeerBuffers: peerBuffers,
		Callers:     callers,
	}
}

// runPD binds p to pd's resources and starts its event loop in a
// background goroutine, returning a channel that receives the loop's
// terminal error (including a synthetic one built from a recovered
// panic, standing in for a spawned PD's non-zero exit status).
func runPD(ctx context.Context, pd *registry.PD, all []*registry.PD, p payload.Payload, binds []binder.Bind) (<-chan error, *microkit.API) {
	res := resourcesFor(pd, all)
	api := microkit.New(res)

	done := make(chan error, 1)

	go func() {
		if err := binder.BindInProcess(p, binds, api); err != nil {
			done <- err
			return
		}

		// A no-op OnFatal: the default would call logger.Fatal (os.Exit),
		// which would kill the test binary instead of just this PD's
		// goroutine. The terminal error is already returned by Run and
		// forwarded below, which is all this harness needs.
		done <- eventloop.Run(ctx, pd.Name, p, res, func(error) {})
	}()

	return done, api
}

func waitFatal(t *testing.T, ch <-chan error, timeout time.Duration) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		t.Fatal("timed out waiting for pd to terminate")
		return nil
	}
}
