package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikemospan/linux-microkit/binder"
	_ "github.com/mikemospan/linux-microkit/internal/testpd"
	"github.com/mikemospan/linux-microkit/payload"
	"github.com/mikemospan/linux-microkit/shared/api"
)

const testTimeout = 2 * time.Second

// TestHelloNotify is scenario 1: A writes a greeting into a shared
// buffer and notifies B, which reads it back out.
func TestHelloNotify(t *testing.T) {
	s := newSystem(t)
	defer s.teardown()

	a := s.createPD("a")
	b := s.createPD("b")
	s.createRegion("buf", 4096)
	s.bind("a", "buf", "buffer")
	s.bind("b", "buf", "buffer")
	s.connect("a", "b", 1)
	s.connect("b", "a", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allPDs := s.reg.PDs()

	receiver := &receiverFixture{}
	runPD(ctx, b, allPDs, receiver, bindsOf(s, "b"))

	sender := senderFixture{}
	runPD(ctx, a, allPDs, sender, bindsOf(s, "a"))

	select {
	case msg := <-receiver.message:
		require.Equal(t, "Hello World!", msg)
	case <-time.After(testTimeout):
		t.Fatal("never received hello notification")
	}
}

// TestPPCRoundTrip is scenario 2.
func TestPPCRoundTrip(t *testing.T) {
	s := newSystem(t)
	defer s.teardown()

	a := s.createPD("a")
	b := s.createPD("b")
	s.connect("a", "b", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allPDs := s.reg.PDs()

	callee := &calleeFixture{}
	runPD(ctx, b, allPDs, callee, nil)

	result := make(chan error, 1)
	caller := &callerFixture{result: result}
	runPD(ctx, a, allPDs, caller, nil)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("ppc round trip never completed")
	}
}

// TestFIFOOrderingWithInterleave is scenario 3's interleaved case:
// exactly 3 notified() calls when a synchronous PPC separates each
// notify.
func TestFIFOOrderingWithInterleave(t *testing.T) {
	s := newSystem(t)
	defer s.teardown()

	a := s.createPD("a")
	b := s.createPD("b")
	s.connect("a", "b", 1)
	s.connect("a", "b", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allPDs := s.reg.PDs()

	delivered := make(chan int64, 8)
	counter := &counterFixture{delivered: delivered}
	runPD(ctx, b, allPDs, counter, nil)

	sender := &interleavedSenderFixture{}
	runPD(ctx, a, allPDs, sender, nil)

	var last int64
	for i := 0; i < 3; i++ {
		select {
		case last = <-delivered:
		case <-time.After(testTimeout):
			t.Fatalf("only received %d of 3 expected notifications", i)
		}
	}

	require.Equal(t, int64(3), last)
}

// TestInvalidChannelIsFatal is scenario 4.
func TestInvalidChannelIsFatal(t *testing.T) {
	s := newSystem(t)
	defer s.teardown()

	a := s.createPD("a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allPDs := s.reg.PDs()

	faulty := &invalidChannelFixture{}
	done, _ := runPD(ctx, a, allPDs, faulty, nil)

	err := waitFatal(t, done, testTimeout)
	require.Error(t, err)
}

// TestPayloadCrashIsolation is scenario 5: a payload panic in
// Notified terminates only that PD.
func TestPayloadCrashIsolation(t *testing.T) {
	s := newSystem(t)
	defer s.teardown()

	a := s.createPD("a")
	b := s.createPD("b")
	s.connect("a", "b", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allPDs := s.reg.PDs()

	crasher := &crasherFixture{}
	bDone, _ := runPD(ctx, b, allPDs, crasher, nil)

	idle := &idleFixture{}
	_, aAPI := runPD(ctx, a, allPDs, idle, nil)

	require.NoError(t, aAPI.Notify(1))

	err := waitFatal(t, bDone, testTimeout)
	require.Error(t, err)
}

// TestSharedRegionCoherence is scenario 6.
func TestSharedRegionCoherence(t *testing.T) {
	s := newSystem(t)
	defer s.teardown()

	a := s.createPD("a")
	b := s.createPD("b")
	s.createRegion("buf", 64)
	s.bind("a", "buf", "buffer")
	s.bind("b", "buf", "buffer")
	s.connect("a", "b", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allPDs := s.reg.PDs()

	receiver := &receiverFixture{}
	runPD(ctx, b, allPDs, receiver, bindsOf(s, "b"))

	sender := senderFixture{}
	runPD(ctx, a, allPDs, sender, bindsOf(s, "a"))

	select {
	case msg := <-receiver.message:
		require.Equal(t, "Hello World!", msg)
	case <-time.After(testTimeout):
		t.Fatal("region contents never observed by peer")
	}
}

func bindsOf(s *system, pdName string) []binder.Bind {
	pd, ok := s.reg.PD(pdName)
	if !ok {
		return nil
	}

	return binder.FromRegistryBindings(pd.Binds())
}

var errBadReply = errors.New("unexpected ppc reply contents")

// --- fixtures, constructed directly here so each test controls
// exactly which channel carries what. ---

type senderFixture struct{}

func (senderFixture) Init(ctx *payload.Context) error {
	buf := ctx.Buffers["buffer"]
	copy(buf, "Hello World!\x00")
	return ctx.API.Notify(1)
}

func (senderFixture) Notified(ch uint64) {}

type receiverFixture struct {
	buffer  []byte
	message chan string
}

func (r *receiverFixture) Init(ctx *payload.Context) error {
	r.buffer = ctx.Buffers["buffer"]
	r.message = make(chan string, 1)
	return nil
}

func (r *receiverFixture) Notified(ch uint64) {
	if ch != 1 {
		return
	}

	end := len(r.buffer)
	for i, b := range r.buffer {
		if b == 0 {
			end = i
			break
		}
	}

	r.message <- string(r.buffer[:end])
}

type callerFixture struct {
	result chan error
}

func (c *callerFixture) Init(ctx *payload.Context) error {
	ctx.API.MrSet(0, 100)
	ctx.API.MrSet(1, 8)

	reply, err := ctx.API.PPCall(1, api.NewMsgInfo(0, 2))
	if err != nil {
		c.result <- err
		return err
	}

	if reply.Count() != 1 || ctx.API.MrGet(0) != 1 {
		c.result <- errBadReply
		return errBadReply
	}

	c.result <- nil
	return nil
}

func (c *callerFixture) Notified(ch uint64) {}

type calleeFixture struct {
	ctx *payload.Context
}

func (c *calleeFixture) Init(ctx *payload.Context) error {
	c.ctx = ctx
	return nil
}

func (c *calleeFixture) Notified(ch uint64) {}

func (c *calleeFixture) Protected(ch uint64, info api.MsgInfo) api.MsgInfo {
	c.ctx.API.MrSet(0, 1)
	return api.NewMsgInfo(0, 1)
}

type interleavedSenderFixture struct{}

func (interleavedSenderFixture) Init(ctx *payload.Context) error {
	for i := 0; i < 3; i++ {
		if err := ctx.API.Notify(1); err != nil {
			return err
		}

		if _, err := ctx.API.PPCall(2, api.NewMsgInfo(0, 0)); err != nil {
			return err
		}
	}

	return nil
}

func (interleavedSenderFixture) Notified(ch uint64) {}

type counterFixture struct {
	count     int64
	delivered chan int64
}

func (c *counterFixture) Init(ctx *payload.Context) error { return nil }

func (c *counterFixture) Notified(ch uint64) {
	c.count++
	c.delivered <- c.count
}

func (c *counterFixture) Protected(ch uint64, info api.MsgInfo) api.MsgInfo {
	return api.NewMsgInfo(0, 0)
}

type invalidChannelFixture struct{}

func (invalidChannelFixture) Init(ctx *payload.Context) error {
	return ctx.API.Notify(99)
}

func (invalidChannelFixture) Notified(ch uint64) {}

type crasherFixture struct{}

func (crasherFixture) Init(ctx *payload.Context) error { return nil }

func (crasherFixture) Notified(ch uint64) {
	var nilSlice []byte
	_ = nilSlice[0]
}

type idleFixture struct{}

func (idleFixture) Init(ctx *payload.Context) error { return nil }
func (idleFixture) Notified(ch uint64)               {}
