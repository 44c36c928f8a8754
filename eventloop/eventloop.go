// Package eventloop drives one protection domain's dispatch loop: the
// Ready state of the Init -> Ready state machine, entered after binder
// has called the payload's Init once. It serially delivers Notified and
// Protected callbacks whenever either of its two input sources - the notification endpoint and the
// send pipe - has something pending. It is the direct analogue of
// event_handler's ppoll(fds, 2, ...) loop, reimplemented over epoll
// since Go has no ppoll binding in x/sys/unix.
package eventloop

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mikemospan/linux-microkit/ipc"
	"github.com/mikemospan/linux-microkit/microkit"
	"github.com/mikemospan/linux-microkit/payload"
	"github.com/mikemospan/linux-microkit/shared/api"
	"github.com/mikemospan/linux-microkit/shared/logger"
)

// pollTimeoutMillis bounds each EpollWait call so Run can notice ctx
// cancellation promptly without needing a dedicated eventfd just for
// shutdown.
const pollTimeoutMillis = 250

// OnFatal is called when the loop hits an error it cannot recover
// from - a dead peer, a misconfigured channel, or a payload panic.
// The default, used when Run is given a nil OnFatal, logs and exits
// the process; tests substitute one that records the error instead,
// since a real os.Exit would kill the test binary.
type OnFatal func(err error)

func defaultOnFatal(name string) OnFatal {
	return func(err error) {
		logger.Fatal("pd terminating on fatal error", logger.Ctx{"pd": name, "error": err.Error()})
	}
}

// Run starts p's dispatch loop against res and blocks until ctx is
// cancelled or a fatal error occurs. p must already be initialised -
// binder.BindInProcess/BindPlugin is the Init step, run once before
// Run is called, not by Run itself. If p also implements
// payload.ProtectedPayload, PPC requests on the send pipe are
// dispatched to it, otherwise a PPC request is itself a fatal
// configuration error for this PD.
func Run(ctx context.Context, name string, p payload.Payload, res *microkit.Resources, onFatal OnFatal) error {
	if onFatal == nil {
		onFatal = defaultOnFatal(name)
	}

	protected, _ := p.(payload.ProtectedPayload)
	if withFlag, ok := p.(interface{ HasProtected() bool }); ok && !withFlag.HasProtected() {
		protected = nil
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return ipc.Fatal(ipc.KindResource, fmt.Errorf("eventloop: epoll_create1: %w", err))
	}
	defer unix.Close(epfd)

	notifFd := res.Self.Notification.Fd()
	sendFd := int(res.Self.SendPipe.Read.Fd())

	if err := epollAdd(epfd, notifFd); err != nil {
		return ipc.Fatal(ipc.KindResource, err)
	}

	if err := epollAdd(epfd, sendFd); err != nil {
		return ipc.Fatal(ipc.KindResource, err)
	}

	events := make([]unix.EpollEvent, 2)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := unix.EpollWait(epfd, events, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			fatal := ipc.Fatal(ipc.KindResource, fmt.Errorf("epoll_wait: %w", err))
			onFatal(fatal)
			return fatal
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)

			switch fd {
			case notifFd:
				if err := dispatchNotifications(res, p); err != nil {
					onFatal(err)
					return err
				}
			case sendFd:
				if err := dispatchRequest(res, protected); err != nil {
					onFatal(err)
					return err
				}
			}
		}
	}
}

func epollAdd(epfd, fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl(add %d): %w", fd, err)
	}

	return nil
}

func dispatchNotifications(res *microkit.Resources, p payload.Payload) error {
	chans, err := res.Self.Notification.Drain()
	if err != nil {
		return ipc.Fatal(ipc.KindPeer, fmt.Errorf("eventloop: draining notifications: %w", err))
	}

	for _, ch := range chans {
		if err := runGuarded(func() error { p.Notified(ch); return nil }); err != nil {
			return ipc.Fatal(ipc.KindApplication, fmt.Errorf("notified(%d): %w", ch, err))
		}
	}

	return nil
}

func dispatchRequest(res *microkit.Resources, protected payload.ProtectedPayload) error {
	msg, err := api.ReadMessage(res.Self.SendPipe.Read)
	if err != nil {
		return ipc.Fatal(ipc.KindPeer, fmt.Errorf("eventloop: reading request: %w", err))
	}

	if protected == nil {
		return ipc.Fatalf(ipc.KindConfiguration, "eventloop: received ppcall on channel %d but payload has no Protected handler", msg.Ch)
	}

	var reply api.MsgInfo
	callErr := runGuarded(func() error {
		reply = protected.Protected(msg.Ch, msg.Info)
		return nil
	})
	if callErr != nil {
		return ipc.Fatal(ipc.KindApplication, fmt.Errorf("protected(%d): %w", msg.Ch, callErr))
	}

	if err := microkit.Reply(res, msg.SendBack, reply); err != nil {
		return err
	}

	return nil
}

// runGuarded calls fn and converts a panic into an error, isolating a
// payload fault to this one dispatch rather than propagating an
// unwind through the runtime's own epoll loop.
func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}
