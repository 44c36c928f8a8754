package registry

import "github.com/mikemospan/linux-microkit/region"

// Region is a named shared-memory region record, owned exclusively by
// the Registry that created it.
type Region struct {
	*region.Region

	bindings []BindRef
}

// BindRef names one (PD, variable) pair a region has been bound to.
type BindRef struct {
	PD      string
	VarName string
}

// Bindings returns a snapshot of every (PD, variable) pair this region
// has been bound to.
func (r *Region) Bindings() []BindRef {
	out := make([]BindRef, len(r.bindings))
	copy(out, r.bindings)
	return out
}
