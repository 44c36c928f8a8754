// Package payload defines the ABI a protection domain's loadable
// payload exports, and two ways of resolving one: an in-process
// registry (used by internal/testpd and any test harness) and a
// plugin.Open-based loader for real *.so payloads built separately.
package payload

import (
	"fmt"
	"sync"

	"github.com/mikemospan/linux-microkit/microkit"
	"github.com/mikemospan/linux-microkit/shared/api"
)

// Context is what binder hands a payload's Init: its bound
// shared-memory buffers, keyed by the variable name the system
// description declared for each binding, and the API handle it uses
// to call Notify/PPCall/MrSet/MrGet from Init, Notified, or Protected.
//
// The buffer-map binding is the "direct capability pass" alternative
// noted as acceptable for rewritten payloads: buffers are handed over
// at init rather than resolved by patching a symbol address, though
// the bind-list model (region, payload, variable name) that produced
// them is unchanged. Plugin-loaded payloads (LoadPlugin, below) still
// get the address-patching behaviour, for payloads that were not
// rewritten, and do not receive an API handle - see binder.BindPlugin.
type Context struct {
	Buffers map[string][]byte
	API     *microkit.API
}

// Payload is the ABI contract a protection domain's loaded code
// satisfies: Init once, Notified per notification, Protected
// (optionally) per PPC request.
type Payload interface {
	// Init is called once, before the dispatch loop starts. It may
	// call microkit.Notify/PPCall via the API handed to it.
	Init(ctx *Context) error

	// Notified is called once per notification, with the channel id
	// the sender used.
	Notified(ch uint64)
}

// ProtectedPayload is the optional part of the ABI: a payload that
// never receives PPCs need not implement it.
type ProtectedPayload interface {
	Payload

	// Protected is called once per PPC request; its return value is
	// the reply.
	Protected(ch uint64, info api.MsgInfo) api.MsgInfo
}

// Factory builds a fresh Payload instance - used so the same
// registered name can back more than one spawned PD (e.g. in a test
// that starts several PDs from one payload implementation).
type Factory func() Payload

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a named in-process payload factory, callable from a
// package init() the way internal/testpd registers its fixtures.
// Panics on duplicate registration - a programming error, not a
// runtime condition.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("payload: %q already registered", name))
	}

	registry[name] = factory
}

// Lookup resolves a registered in-process payload by name.
func Lookup(name string) (Payload, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("payload: no in-process payload registered as %q", name)
	}

	return factory(), nil
}
