// Package binder resolves a PD's shared-memory bind list against its
// already-mapped regions and hands the result to a payload, using
// whichever of the two binding styles the payload supports: the
// direct-capability-pass Context (in-process and rewritten payloads)
// or symbol-address patching (plugin-loaded payloads built separately
// from source, grounded on src/handler.c's set_shared_memory dlsym
// walk over the bind list).
package binder

import (
	"fmt"
	"unsafe"

	"github.com/mikemospan/linux-microkit/microkit"
	"github.com/mikemospan/linux-microkit/payload"
	"github.com/mikemospan/linux-microkit/region"
	"github.com/mikemospan/linux-microkit/registry"
)

// Bind is one resolved (region, variable name) pair, independent of
// whether the region came from a registry owned in this process or
// was reattached from an inherited memfd in a spawned PD - both
// produce a *region.Region, which is all binder needs.
type Bind struct {
	Region  *region.Region
	VarName string
}

// FromRegistryBindings adapts a PD's registry-owned bind list (the
// in-process/test path, where regions live in a registry.Registry) to
// the binder's own Bind type.
func FromRegistryBindings(binds []registry.Binding) []Bind {
	out := make([]Bind, len(binds))
	for i, b := range binds {
		out[i] = Bind{Region: b.Region.Region, VarName: b.VarName}
	}

	return out
}

// MapBuffers maps every region in binds and returns the resulting
// byte slices keyed by variable name. Later entries for the same
// variable name win, matching registry.BindRegion's documented
// last-write-wins contract.
func MapBuffers(binds []Bind) (map[string][]byte, error) {
	buffers := make(map[string][]byte, len(binds))

	for _, b := range binds {
		data, err := b.Region.Map()
		if err != nil {
			return nil, fmt.Errorf("binder: mapping region %q for variable %q: %w", b.Region.Name, b.VarName, err)
		}

		buffers[b.VarName] = data
	}

	return buffers, nil
}

// BindInProcess initialises an in-process payload with its mapped
// buffers and its API handle handed over directly - no symbol
// resolution required, since the payload and the runtime share an
// address space and a compiler.
func BindInProcess(p payload.Payload, binds []Bind, api *microkit.API) error {
	buffers, err := MapBuffers(binds)
	if err != nil {
		return err
	}

	return p.Init(&payload.Context{Buffers: buffers, API: api})
}

// BindPlugin initialises a plugin-loaded payload by patching each
// bound variable's exported *unsafe.Pointer to the address of its
// mapped region, then calling Init. This is the closer analogue of
// the original's binding model: the payload's own global reads the
// shared memory through a pointer the runtime set, rather than
// through a map handed in at call time.
func BindPlugin(p *payload.PluginPayload, binds []Bind) error {
	for _, b := range binds {
		data, err := b.Region.Map()
		if err != nil {
			return fmt.Errorf("binder: mapping region %q for variable %q: %w", b.Region.Name, b.VarName, err)
		}

		var addr unsafe.Pointer
		if len(data) > 0 {
			addr = unsafe.Pointer(&data[0])
		}

		if err := p.BindVariable(b.VarName, addr); err != nil {
			return fmt.Errorf("binder: binding variable %q: %w", b.VarName, err)
		}
	}

	return p.Init(&payload.Context{})
}
