package topology

import (
	"fmt"

	"nithronos/nosvol/internal/disks"
)

// CreateBlankTopology returns a topology with all four groups empty.
func CreateBlankTopology() Topology {
	return Topology{Data: []Vdev{}, Log: []Vdev{}, Cache: []Vdev{}, Spare: []Vdev{}}
}

// CreateTopology allocates disks for prefs from the front of the supplied
// lists. Data and spare draw from hdds, log and cache from ssds. A group whose
// request cannot be met in full is left empty. It returns the topology and the
// disk paths it consumed, in allocation order.
func CreateTopology(hdds, ssds []string, prefs Preferences) (Topology, []string) {
	t := CreateBlankTopology()
	hddPool := &diskQueue{paths: hdds}
	ssdPool := &diskQueue{paths: ssds}
	used := []string{}

	if vdevs, ok := allocate(hddPool, PurposeData, prefs.Data); ok {
		t.Data = vdevs
	}
	if vdevs, ok := allocate(ssdPool, PurposeLog, prefs.Log); ok {
		t.Log = vdevs
	}
	if vdevs, ok := allocate(ssdPool, PurposeCache, prefs.Cache); ok {
		t.Cache = vdevs
	}
	if vdevs, ok := allocate(hddPool, PurposeSpare, prefs.Spare); ok {
		t.Spare = vdevs
	}
	for _, p := range Purposes {
		for _, v := range t.Group(p) {
			used = append(used, MemberDiskPaths(v)...)
		}
	}
	return t, used
}

type diskQueue struct {
	paths []string
	next  int
}

func (q *diskQueue) remaining() int { return len(q.paths) - q.next }

func (q *diskQueue) take(n int) []string {
	out := make([]string, n)
	copy(out, q.paths[q.next:q.next+n])
	q.next += n
	return out
}

func allocate(q *diskQueue, purpose Purpose, g GroupPreference) ([]Vdev, bool) {
	if g.Disks <= 0 {
		return nil, false
	}
	if purpose == PurposeSpare {
		if g.Disks > q.remaining() {
			return nil, false
		}
		out := []Vdev{}
		for _, p := range q.take(g.Disks) {
			out = append(out, Vdev{Type: Disk, Path: p})
		}
		return out, true
	}

	count := g.Vdevs
	if count <= 0 {
		count = 1
	}
	if purpose != PurposeData && count > 1 {
		return nil, false
	}
	members := make([]string, g.Disks)
	if !allowed(AllowedVdevTypes(members, purpose), g.Type) {
		return nil, false
	}
	if count*g.Disks > q.remaining() {
		return nil, false
	}
	out := make([]Vdev, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, newVdev(g.Type, q.take(g.Disks)))
	}
	return out, true
}

// newVdev builds a vdev of type t over paths. Disk uses the first path.
func newVdev(t VdevType, paths []string) Vdev {
	if t == Disk {
		return Vdev{Type: Disk, Path: paths[0]}
	}
	children := make([]Vdev, len(paths))
	for i, p := range paths {
		children[i] = Vdev{Type: Disk, Path: p}
	}
	return Vdev{Type: t, Children: children}
}

// MemberDiskPaths flattens v to its disk paths: a Disk vdev yields its own
// path, a group its children's paths in order, Empty nothing.
func MemberDiskPaths(v Vdev) []string {
	switch {
	case v.Type == Empty:
		return []string{}
	case v.Type == Disk:
		return []string{v.Path}
	}
	out := make([]string, 0, len(v.Children))
	for _, c := range v.Children {
		out = append(out, c.Path)
	}
	return out
}

// Members returns every disk path referenced by t, data first.
func Members(t Topology) []string {
	out := []string{}
	for _, p := range Purposes {
		for _, v := range t.Group(p) {
			out = append(out, MemberDiskPaths(v)...)
		}
	}
	return out
}

// AllowedVdevTypes returns the vdev types structurally legal for the member
// count and purpose, least redundant first.
func AllowedVdevTypes(members []string, purpose Purpose) []VdevType {
	n := len(members)
	if n == 0 {
		return []VdevType{}
	}
	if purpose == PurposeSpare || n == 1 {
		return []VdevType{Disk}
	}
	out := []VdevType{}
	if purpose == PurposeData {
		out = append(out, Stripe)
	}
	out = append(out, Mirror)
	if purpose != PurposeData {
		return out
	}
	for _, t := range []VdevType{RaidZ1, RaidZ2, RaidZ3} {
		if n >= parity[t]+2 {
			out = append(out, t)
		}
	}
	return out
}

// AllowedVdevTypesFor is AllowedVdevTypes for a vdev of an existing volume.
// Layouts already on the server cannot change type, so the set collapses to
// the current type.
func AllowedVdevTypesFor(members []string, purpose Purpose, existsOnServer bool, current VdevType) []VdevType {
	if existsOnServer {
		if current == Empty {
			return []VdevType{}
		}
		return []VdevType{current}
	}
	return AllowedVdevTypes(members, purpose)
}

func allowed(set []VdevType, t VdevType) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

// Breakdown is usable and parity capacity in bytes.
type Breakdown struct {
	Avail  int64 `json:"avail"`
	Parity int64 `json:"parity"`
}

// CalculateBreakdown sums usable and parity capacity of data vdevs. The
// smallest member bounds every redundant vdev. A path missing from catalog
// is an error.
func CalculateBreakdown(vdevs []Vdev, catalog disks.Catalog) (Breakdown, error) {
	var b Breakdown
	for i, v := range vdevs {
		if v.Type == Empty {
			continue
		}
		members := MemberDiskPaths(v)
		sizes := make([]int64, len(members))
		for j, p := range members {
			d, err := catalog.Lookup(p)
			if err != nil {
				return Breakdown{}, fmt.Errorf("vdev %d: %w", i, err)
			}
			sizes[j] = d.MediaSize
		}
		if len(sizes) == 0 {
			continue
		}
		smallest := sizes[0]
		var sum int64
		for _, s := range sizes {
			sum += s
			if s < smallest {
				smallest = s
			}
		}
		n := int64(len(sizes))
		switch v.Type {
		case Disk, Stripe:
			b.Avail += sum
		case Mirror:
			b.Avail += smallest
			b.Parity += (n - 1) * smallest
		case RaidZ1, RaidZ2, RaidZ3:
			k := int64(parity[v.Type])
			b.Avail += (n - k) * smallest
			b.Parity += k * smallest
		default:
			return Breakdown{}, fmt.Errorf("vdev %d: %w: type %q", i, ErrMalformedVdev, v.Type)
		}
	}
	return b, nil
}

// TopologyBreakdown accounts the data group of t only; log, cache and spare
// do not add capacity.
func TopologyBreakdown(t Topology, catalog disks.Catalog) (Breakdown, error) {
	return CalculateBreakdown(t.Data, catalog)
}
