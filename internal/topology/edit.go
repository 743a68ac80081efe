package topology

import "fmt"

// AddDisk assigns path to the vdev at index in the purpose group and returns
// the edited copy. An index past the end opens a new Disk vdev. Adding to a
// Disk vdev promotes it to a mirror. Spares always get a new Disk vdev.
func AddDisk(t Topology, purpose Purpose, index int, path string) (Topology, error) {
	if !purpose.Valid() {
		return t, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	for _, p := range Members(t) {
		if p == path {
			return t, fmt.Errorf("%w: %s", ErrDiskInUse, path)
		}
	}
	out := t.Clone()
	group := out.Group(purpose)
	leaf := Vdev{Type: Disk, Path: path}

	if purpose == PurposeSpare || index < 0 || index >= len(group) {
		if (purpose == PurposeLog || purpose == PurposeCache) && len(group) >= 1 {
			return t, fmt.Errorf("%w: %s", ErrGroupFull, purpose)
		}
		out.setGroup(purpose, append(group, leaf))
		return out, nil
	}

	v := group[index]
	switch v.Type {
	case Empty:
		group[index] = leaf
	case Disk:
		group[index] = Vdev{Type: Mirror, Children: []Vdev{{Type: Disk, Path: v.Path}, leaf}}
	default:
		v.Children = append(v.Children, leaf)
		group[index] = v
	}
	return out, nil
}

// RemoveDisk takes path out of the vdev at index. A vdev left with one
// member becomes a Disk vdev, with none it is dropped. When the remaining
// count no longer supports the type, the most redundant legal type is used.
func RemoveDisk(t Topology, purpose Purpose, index int, path string) (Topology, error) {
	if !purpose.Valid() {
		return t, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	group := t.Group(purpose)
	if index < 0 || index >= len(group) {
		return t, fmt.Errorf("%w: %s[%d]", ErrNoSuchVdev, purpose, index)
	}
	members := MemberDiskPaths(group[index])
	rest := make([]string, 0, len(members))
	found := false
	for _, m := range members {
		if m == path && !found {
			found = true
			continue
		}
		rest = append(rest, m)
	}
	if !found {
		return t, fmt.Errorf("%w: %s not in %s[%d]", ErrDiskNotInVdev, path, purpose, index)
	}

	out := t.Clone()
	g := out.Group(purpose)
	if len(rest) == 0 {
		out.setGroup(purpose, append(g[:index], g[index+1:]...))
		return out, nil
	}
	typ := g[index].Type
	legal := AllowedVdevTypes(rest, purpose)
	if !allowed(legal, typ) {
		typ = legal[len(legal)-1]
	}
	g[index] = newVdev(typ, rest)
	return out, nil
}

// NukeVdev drops the vdev at index, releasing its disks.
func NukeVdev(t Topology, purpose Purpose, index int) (Topology, error) {
	if !purpose.Valid() {
		return t, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	group := t.Group(purpose)
	if index < 0 || index >= len(group) {
		return t, fmt.Errorf("%w: %s[%d]", ErrNoSuchVdev, purpose, index)
	}
	out := t.Clone()
	g := out.Group(purpose)
	out.setGroup(purpose, append(g[:index], g[index+1:]...))
	return out, nil
}

// ChangeVdevType relayouts the vdev at index over its current members.
func ChangeVdevType(t Topology, purpose Purpose, index int, typ VdevType) (Topology, error) {
	if !purpose.Valid() {
		return t, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	group := t.Group(purpose)
	if index < 0 || index >= len(group) {
		return t, fmt.Errorf("%w: %s[%d]", ErrNoSuchVdev, purpose, index)
	}
	members := MemberDiskPaths(group[index])
	if !allowed(AllowedVdevTypes(members, purpose), typ) {
		return t, fmt.Errorf("%w: %s with %d members in %s", ErrIllegalVdevType, typ, len(members), purpose)
	}
	out := t.Clone()
	out.Group(purpose)[index] = newVdev(typ, members)
	return out, nil
}
