// Package registry is the single source of truth for protection
// domains and shared-memory regions: it owns every PD and Region
// record along with their embedded OS handles, and resolves the
// string names a system description uses into those records.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mikemospan/linux-microkit/region"
	"github.com/mikemospan/linux-microkit/shared/api"
)

// Registry owns all PD and Region records for one running system.
// Names are unique within their kind; iteration order over PDs() and
// Regions() is the order records were created in, which is stable but
// must not be relied on for correctness - spec.md explicitly leaves
// iteration order unspecified.
type Registry struct {
	mu       sync.Mutex
	pds      map[string]*PD
	pdOrder  []string
	regions  map[string]*Region
	regOrder []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		pds:     make(map[string]*PD),
		regions: make(map[string]*Region),
	}
}

// CreatePD allocates a new, unspawned protection domain: its
// notification endpoint, IPC buffer, and two pipes. stackSize is only
// recorded on the PD; no stack, guarded or otherwise, is allocated for
// it. It fails if name is already registered.
func (r *Registry) CreatePD(name string, stackSize uint32) (*PD, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pds[name]; exists {
		return nil, fmt.Errorf("registry: pd %q already registered", name)
	}

	if len(r.pds) >= api.MaxPDs {
		return nil, fmt.Errorf("registry: system already has the maximum of %d pds", api.MaxPDs)
	}

	pd, err := newPD(name, len(r.pdOrder), stackSize)
	if err != nil {
		return nil, fmt.Errorf("registry: creating pd %q: %w", name, err)
	}

	r.pds[name] = pd
	r.pdOrder = append(r.pdOrder, name)
	return pd, nil
}

// CreateRegion allocates a new shared-memory region. It fails if name
// is already registered.
func (r *Registry) CreateRegion(name string, size uint64) (*Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regions[name]; exists {
		return nil, fmt.Errorf("registry: region %q already registered", name)
	}

	backing, err := region.Create(name, size)
	if err != nil {
		return nil, fmt.Errorf("registry: creating region %q: %w", name, err)
	}

	reg := &Region{Region: backing}
	r.regions[name] = reg
	r.regOrder = append(r.regOrder, name)
	return reg, nil
}

// BindRegion appends (region, varname) to pd's bind list. Duplicates
// are permitted; the last binding for a given varname wins when the
// binder resolves it.
func (r *Registry) BindRegion(pdName, regionName, varname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pd, ok := r.pds[pdName]
	if !ok {
		return fmt.Errorf("registry: bind: pd %q not found", pdName)
	}

	reg, ok := r.regions[regionName]
	if !ok {
		return fmt.Errorf("registry: bind: region %q not found", regionName)
	}

	pd.mu.Lock()
	pd.binds = append(pd.binds, Binding{Region: reg, VarName: varname})
	pd.mu.Unlock()

	reg.bindings = append(reg.bindings, BindRef{PD: pdName, VarName: varname})
	return nil
}

// Connect sets from's channel table entry for ch to to. It fails if ch
// is out of range or either PD is unknown.
func (r *Registry) Connect(from, to string, ch uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch >= api.MaxChannelsPerPD {
		return fmt.Errorf("registry: connect: channel id %d >= MAX_CHANNELS_PER_PD (%d)", ch, api.MaxChannelsPerPD)
	}

	fromPD, ok := r.pds[from]
	if !ok {
		return fmt.Errorf("registry: connect: pd %q not found", from)
	}

	toPD, ok := r.pds[to]
	if !ok {
		return fmt.Errorf("registry: connect: pd %q not found", to)
	}

	fromPD.mu.Lock()
	fromPD.channels[ch] = toPD
	fromPD.mu.Unlock()

	return nil
}

// PD resolves a PD by name.
func (r *Registry) PD(name string) (*PD, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pd, ok := r.pds[name]
	return pd, ok
}

// Region resolves a region by name.
func (r *Registry) Region(name string) (*Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regions[name]
	return reg, ok
}

// PDs returns every registered PD in creation order.
func (r *Registry) PDs() []*PD {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*PD, 0, len(r.pdOrder))
	for _, name := range r.pdOrder {
		out = append(out, r.pds[name])
	}

	return out
}

// Regions returns every registered region in creation order.
func (r *Registry) Regions() []*Region {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Region, 0, len(r.regOrder))
	for _, name := range r.regOrder {
		out = append(out, r.regions[name])
	}

	return out
}

// Teardown releases every PD's resources and then every region's,
// tolerating PDs that never spawned. It is safe to call more than
// once.
func (r *Registry) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []string

	names := append([]string(nil), r.pdOrder...)
	sort.Strings(names) // deterministic error ordering, not a correctness requirement
	for _, name := range names {
		pd := r.pds[name]
		if pd == nil {
			continue
		}

		if err := pd.close(); err != nil {
			errs = append(errs, fmt.Sprintf("pd %s: %v", name, err))
		}

		delete(r.pds, name)
	}

	for _, name := range r.regOrder {
		reg := r.regions[name]
		if reg == nil {
			continue
		}

		if err := reg.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("region %s: %v", name, err))
		}

		delete(r.regions, name)
	}

	r.pdOrder = nil
	r.regOrder = nil

	if len(errs) > 0 {
		return fmt.Errorf("registry: teardown errors: %v", errs)
	}

	return nil
}
