package disks

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Inventory is a map-backed Catalog. It is never mutated after construction.
type Inventory struct {
	byPath map[string]Disk
	order  []string
}

var _ Catalog = (*Inventory)(nil)

// NewInventory indexes list by path. Later duplicates replace earlier ones.
func NewInventory(list []Disk) *Inventory {
	inv := &Inventory{byPath: make(map[string]Disk, len(list))}
	for _, d := range list {
		if d.Path == "" {
			continue
		}
		if _, dup := inv.byPath[d.Path]; !dup {
			inv.order = append(inv.order, d.Path)
		}
		if d.Class == "" {
			d.Class = ClassHDD
		}
		inv.byPath[d.Path] = d
	}
	sort.Strings(inv.order)
	return inv
}

func (inv *Inventory) Lookup(path string) (Disk, error) {
	d, ok := inv.byPath[path]
	if !ok {
		return Disk{}, fmt.Errorf("%w: %s", ErrUnknownDisk, path)
	}
	return d, nil
}

// Paths returns every disk path in sorted order.
func (inv *Inventory) Paths() []string {
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

// ByClass returns the paths of class c, sorted. When available is non-nil only
// paths it reports true for are returned; otherwise the catalog's own
// Available flag decides.
func (inv *Inventory) ByClass(c Class, available func(path string) bool) []string {
	out := []string{}
	for _, p := range inv.order {
		d := inv.byPath[p]
		if d.Class != c {
			continue
		}
		if available != nil {
			if !available(p) {
				continue
			}
		} else if !d.Available {
			continue
		}
		out = append(out, p)
	}
	return out
}

type inventoryFile struct {
	Disks []Disk `yaml:"disks"`
}

// LoadInventory reads a normalized inventory document (YAML or JSON):
//
//	disks:
//	  - {path: /dev/da0, mediasize: 4000787030016, class: HDD, available: true}
func LoadInventory(path string) (*Inventory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f inventoryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	for _, d := range f.Disks {
		if d.Class != "" && d.Class != ClassSSD && d.Class != ClassHDD {
			return nil, fmt.Errorf("inventory %s: disk %s has unknown class %q", path, d.Path, d.Class)
		}
	}
	return NewInventory(f.Disks), nil
}
