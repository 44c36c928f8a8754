package payload

import (
	"fmt"
	"plugin"
	"unsafe"

	"github.com/mikemospan/linux-microkit/shared/api"
)

// Plugin ABI symbol names a payload built as a Go plugin (-buildmode
// plugin) must export. This is the direct Go analogue of the dlopen/
// dlsym contract the emulator this runtime replaces uses: the binder
// resolves these names from the plugin's symbol table exactly as the
// original resolved "init", "notified", "protected", and each bound
// variable name via dlsym.
const (
	pluginSymbolInit      = "Init"
	pluginSymbolNotified  = "Notified"
	pluginSymbolProtected = "Protected"
)

// PluginPayload adapts a dynamically loaded Go plugin to the Payload
// ABI.
type PluginPayload struct {
	handle      *plugin.Plugin
	initFn      func()
	notifiedFn  func(ch uint64)
	protectedFn func(ch uint64, info api.MsgInfo) api.MsgInfo
}

// LoadPlugin opens path as a Go plugin and resolves its required
// symbols. It fails - a configuration error per spec.md §7 - if Init
// or Notified is missing; Protected is optional, matching the ABI's
// "notified, optional protected" contract.
func LoadPlugin(path string) (*PluginPayload, error) {
	handle, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("payload: opening plugin %s: %w", path, err)
	}

	initSym, err := handle.Lookup(pluginSymbolInit)
	if err != nil {
		return nil, fmt.Errorf("payload: plugin %s missing required symbol %q: %w", path, pluginSymbolInit, err)
	}

	initFn, ok := initSym.(func())
	if !ok {
		return nil, fmt.Errorf("payload: plugin %s symbol %q has the wrong type", path, pluginSymbolInit)
	}

	notifiedSym, err := handle.Lookup(pluginSymbolNotified)
	if err != nil {
		return nil, fmt.Errorf("payload: plugin %s missing required symbol %q: %w", path, pluginSymbolNotified, err)
	}

	notifiedFn, ok := notifiedSym.(func(uint64))
	if !ok {
		return nil, fmt.Errorf("payload: plugin %s symbol %q has the wrong type", path, pluginSymbolNotified)
	}

	p := &PluginPayload{handle: handle, initFn: initFn, notifiedFn: notifiedFn}

	if protectedSym, err := handle.Lookup(pluginSymbolProtected); err == nil {
		protectedFn, ok := protectedSym.(func(uint64, api.MsgInfo) api.MsgInfo)
		if !ok {
			return nil, fmt.Errorf("payload: plugin %s symbol %q has the wrong type", path, pluginSymbolProtected)
		}

		p.protectedFn = protectedFn
	}

	return p, nil
}

// BindVariable patches the plugin-exported variable named varname to
// point at addr - the binder's per-binding resolution step. The
// symbol must be exported as *unsafe.Pointer; that is the one pointer
// type a Go plugin can export that this process can safely overwrite
// without violating the source plugin's own type system.
func (p *PluginPayload) BindVariable(varname string, addr unsafe.Pointer) error {
	sym, err := p.handle.Lookup(varname)
	if err != nil {
		return fmt.Errorf("payload: binding variable %q: %w", varname, err)
	}

	slot, ok := sym.(*unsafe.Pointer)
	if !ok {
		return fmt.Errorf("payload: variable %q is not declared as *unsafe.Pointer", varname)
	}

	*slot = addr
	return nil
}

// Init implements Payload.
func (p *PluginPayload) Init(_ *Context) error {
	p.initFn()
	return nil
}

// Notified implements Payload.
func (p *PluginPayload) Notified(ch uint64) {
	p.notifiedFn(ch)
}

// Protected implements ProtectedPayload if the plugin exported one.
func (p *PluginPayload) Protected(ch uint64, info api.MsgInfo) api.MsgInfo {
	if p.protectedFn == nil {
		return api.NewMsgInfo(0, 0)
	}

	return p.protectedFn(ch, info)
}

// HasProtected reports whether the plugin exported a Protected entry
// point.
func (p *PluginPayload) HasProtected() bool {
	return p.protectedFn != nil
}
