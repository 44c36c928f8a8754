// Package sysdesc decodes a system description: the declarative list
// of protection domains, shared-memory regions, bindings, and
// channels that loader.Load turns into a running system. This plays
// the role the original's XML system description played, but as YAML
// - this codebase's configuration format everywhere else.
package sysdesc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// PD describes one protection domain to create.
type PD struct {
	Name      string `yaml:"name"`
	Payload   string `yaml:"payload"`
	StackSize uint32 `yaml:"stack_size"`
}

// Region describes one shared-memory region to create.
type Region struct {
	Name string `yaml:"name"`
	Size uint64 `yaml:"size"`
}

// Binding describes one (region, pd, variable) bind-list entry.
type Binding struct {
	PD     string `yaml:"pd"`
	Region string `yaml:"region"`
	Var    string `yaml:"var"`
}

// Channel describes one directed channel-table entry: from's channel
// id ch is connected to to. Channels are declared per direction since
// the two ends of a Microkit connection are free to use different
// local channel ids for it; most system descriptions declare both
// directions with the same id.
type Channel struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Ch   uint64 `yaml:"ch"`
}

// Description is a complete system description.
type Description struct {
	PDs      []PD      `yaml:"pds"`
	Regions  []Region  `yaml:"regions"`
	Bindings []Binding `yaml:"bindings"`
	Channels []Channel `yaml:"channels"`
}

// Load reads and decodes a system description from path.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sysdesc: reading %s: %w", path, err)
	}

	var desc Description
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("sysdesc: parsing %s: %w", path, err)
	}

	if err := desc.validate(); err != nil {
		return nil, fmt.Errorf("sysdesc: %s: %w", path, err)
	}

	return &desc, nil
}

func (d *Description) validate() error {
	if len(d.PDs) == 0 {
		return fmt.Errorf("system description declares no protection domains")
	}

	seen := make(map[string]bool, len(d.PDs))
	for _, pd := range d.PDs {
		if pd.Name == "" {
			return fmt.Errorf("pd with empty name")
		}

		if seen[pd.Name] {
			return fmt.Errorf("duplicate pd name %q", pd.Name)
		}

		seen[pd.Name] = true

		if pd.Payload == "" {
			return fmt.Errorf("pd %q declares no payload", pd.Name)
		}
	}

	regions := make(map[string]bool, len(d.Regions))
	for _, r := range d.Regions {
		if regions[r.Name] {
			return fmt.Errorf("duplicate region name %q", r.Name)
		}

		regions[r.Name] = true

		if r.Size == 0 {
			return fmt.Errorf("region %q declares zero size", r.Name)
		}
	}

	for _, b := range d.Bindings {
		if !seen[b.PD] {
			return fmt.Errorf("binding references unknown pd %q", b.PD)
		}

		if !regions[b.Region] {
			return fmt.Errorf("binding references unknown region %q", b.Region)
		}
	}

	for _, c := range d.Channels {
		if !seen[c.From] {
			return fmt.Errorf("channel references unknown pd %q", c.From)
		}

		if !seen[c.To] {
			return fmt.Errorf("channel references unknown pd %q", c.To)
		}
	}

	return nil
}
