// Package testpd provides in-process payload fixtures for the
// end-to-end scenarios this system is exercised against: two PDs
// exchanging a notification and a shared buffer, a PPC round-trip, a
// notification-coalescing counter, an invalid-channel fault, a
// crashing payload, and a shared-region coherence check. Each is
// registered with payload.Register under a fixed name so a test's
// system description can reference it the same way a real built
// payload's .so path would be referenced.
package testpd

import (
	"fmt"
	"sync/atomic"

	"github.com/mikemospan/linux-microkit/microkit"
	"github.com/mikemospan/linux-microkit/payload"
	"github.com/mikemospan/linux-microkit/shared/api"
)

func init() {
	payload.Register("testpd-hello-sender", func() payload.Payload { return &HelloSender{} })
	payload.Register("testpd-hello-receiver", func() payload.Payload { return &HelloReceiver{} })
	payload.Register("testpd-ppc-caller", func() payload.Payload { return &PPCCaller{} })
	payload.Register("testpd-ppc-callee", func() payload.Payload { return &PPCCallee{} })
	payload.Register("testpd-fifo-sender", func() payload.Payload { return &FIFOSender{} })
	payload.Register("testpd-fifo-counter", func() payload.Payload { return &FIFOCounter{} })
	payload.Register("testpd-invalid-channel", func() payload.Payload { return &InvalidChannelCaller{} })
	payload.Register("testpd-crasher", func() payload.Payload { return &Crasher{} })
	payload.Register("testpd-idle", func() payload.Payload { return &Idle{} })
}

const helloMessage = "Hello World!\x00"

// HelloSender writes a greeting into its bound buffer and notifies its
// peer, matching scenario 1.
type HelloSender struct{}

func (h *HelloSender) Init(ctx *payload.Context) error {
	buf, ok := ctx.Buffers["buffer"]
	if !ok {
		return fmt.Errorf("testpd: hello-sender: no buffer bound as %q", "buffer")
	}

	copy(buf, helloMessage)

	if ctx.API == nil {
		return nil
	}

	return ctx.API.Notify(1)
}

func (h *HelloSender) Notified(ch uint64) {}

// HelloReceiver reads the greeting its peer wrote and reports it on a
// channel, since this package can't print to a shared stdout the way
// the original example payloads do and still be observed by a test.
type HelloReceiver struct {
	buffer  []byte
	Message chan string
}

func (h *HelloReceiver) Init(ctx *payload.Context) error {
	h.buffer = ctx.Buffers["buffer"]
	return nil
}

func (h *HelloReceiver) Notified(ch uint64) {
	if ch != 1 {
		return
	}

	msg := string(h.buffer)
	for i, b := range h.buffer {
		if b == 0 {
			msg = string(h.buffer[:i])
			break
		}
	}

	if h.Message != nil {
		h.Message <- msg
	}
}

// PPCCaller drives scenario 2: a PPC carrying two message registers,
// asserting the reply it gets back.
type PPCCaller struct {
	Result chan error
}

func (p *PPCCaller) Init(ctx *payload.Context) error {
	if ctx.API == nil {
		return nil
	}

	ctx.API.MrSet(0, 100)
	ctx.API.MrSet(1, 8)

	reply, err := ctx.API.PPCall(1, api.NewMsgInfo(0, 2))
	if err != nil {
		p.report(err)
		return err
	}

	if reply.Count() != 1 {
		err := fmt.Errorf("testpd: ppc-caller: expected reply count 1, got %d", reply.Count())
		p.report(err)
		return err
	}

	if got := ctx.API.MrGet(0); got != 1 {
		err := fmt.Errorf("testpd: ppc-caller: expected mr0 == 1 after reply, got %d", got)
		p.report(err)
		return err
	}

	p.report(nil)
	return nil
}

func (p *PPCCaller) report(err error) {
	if p.Result != nil {
		p.Result <- err
	}
}

func (p *PPCCaller) Notified(ch uint64) {}

// PPCCallee answers the PPC scenario's request, checking the message
// registers its caller set and overwriting the first with a new value
// the caller asserts on after the call returns.
type PPCCallee struct {
	api *microkit.API
}

func (p *PPCCallee) Init(ctx *payload.Context) error {
	p.api = ctx.API
	return nil
}

func (p *PPCCallee) Notified(ch uint64) {}

func (p *PPCCallee) Protected(ch uint64, info api.MsgInfo) api.MsgInfo {
	if info.Count() != 2 {
		panic(fmt.Sprintf("testpd: ppc-callee: expected count 2, got %d", info.Count()))
	}

	if p.api.MrGet(0) != 100 || p.api.MrGet(1) != 8 {
		panic("testpd: ppc-callee: unexpected message register contents")
	}

	p.api.MrSet(0, 1)
	return api.NewMsgInfo(0, 1)
}

func (p *PPCCallee) HasProtected() bool { return true }

// FIFOSender issues repeated notifications, optionally interleaved
// with a PPC, for scenario 3.
type FIFOSender struct {
	Interleave bool
}

func (f *FIFOSender) Init(ctx *payload.Context) error {
	if ctx.API == nil {
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := ctx.API.Notify(1); err != nil {
			return err
		}

		if f.Interleave {
			if _, err := ctx.API.PPCall(2, api.NewMsgInfo(0, 0)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (f *FIFOSender) Notified(ch uint64) {}

// FIFOCounter counts delivered notifications for scenario 3.
type FIFOCounter struct {
	Count     int64
	Delivered chan int64
}

func (f *FIFOCounter) Init(ctx *payload.Context) error { return nil }

func (f *FIFOCounter) Notified(ch uint64) {
	n := atomic.AddInt64(&f.Count, 1)
	if f.Delivered != nil {
		f.Delivered <- n
	}
}

func (f *FIFOCounter) Protected(ch uint64, info api.MsgInfo) api.MsgInfo {
	return api.NewMsgInfo(0, 0)
}

func (f *FIFOCounter) HasProtected() bool { return true }

// InvalidChannelCaller notifies a channel id its table does not
// contain, for scenario 4.
type InvalidChannelCaller struct{}

func (i *InvalidChannelCaller) Init(ctx *payload.Context) error {
	if ctx.API == nil {
		return nil
	}

	return ctx.API.Notify(99)
}

func (i *InvalidChannelCaller) Notified(ch uint64) {}

// Crasher dereferences a nil slice on notification, for scenario 5.
type Crasher struct{}

func (c *Crasher) Init(ctx *payload.Context) error { return nil }

func (c *Crasher) Notified(ch uint64) {
	var nilSlice []byte
	_ = nilSlice[0]
}

// Idle does nothing; used as a placeholder payload and as
// the "other side" of scenarios that only assert on one PD.
type Idle struct{}

func (i *Idle) Init(ctx *payload.Context) error { return nil }
func (i *Idle) Notified(ch uint64)               {}
