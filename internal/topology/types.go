package topology

import "errors"

// VdevType is the redundancy layout of a vdev. The zero value is the Empty
// placeholder: no type, no path, no children.
type VdevType string

const (
	Empty  VdevType = ""
	Disk   VdevType = "disk"
	Stripe VdevType = "stripe"
	Mirror VdevType = "mirror"
	RaidZ1 VdevType = "raidz1"
	RaidZ2 VdevType = "raidz2"
	RaidZ3 VdevType = "raidz3"
)

// vdevTypeOrder is the order AllowedVdevTypes reports types in, from least
// to most redundant.
var vdevTypeOrder = []VdevType{Disk, Stripe, Mirror, RaidZ1, RaidZ2, RaidZ3}

// parity is the parity disk count of the raidz levels.
var parity = map[VdevType]int{RaidZ1: 1, RaidZ2: 2, RaidZ3: 3}

func (t VdevType) IsRaidZ() bool {
	_, ok := parity[t]
	return ok
}

// Valid reports whether t is a known type or Empty.
func (t VdevType) Valid() bool {
	if t == Empty {
		return true
	}
	for _, k := range vdevTypeOrder {
		if k == t {
			return true
		}
	}
	return false
}

// Purpose names one of the four vdev groups of a pool.
type Purpose string

const (
	PurposeData  Purpose = "data"
	PurposeLog   Purpose = "log"
	PurposeCache Purpose = "cache"
	PurposeSpare Purpose = "spare"
)

var Purposes = []Purpose{PurposeData, PurposeLog, PurposeCache, PurposeSpare}

func (p Purpose) Valid() bool {
	switch p {
	case PurposeData, PurposeLog, PurposeCache, PurposeSpare:
		return true
	}
	return false
}

// Vdev is either a Disk leaf (Path set, no children), a group of Disk leaves,
// or Empty.
type Vdev struct {
	Type     VdevType `json:"type"`
	Path     string   `json:"path,omitempty"`
	Children []Vdev   `json:"children,omitempty"`
}

// Topology holds the four vdev groups. Log and Cache hold at most one vdev;
// Spare holds Disk vdevs only.
type Topology struct {
	Data  []Vdev `json:"data"`
	Log   []Vdev `json:"log"`
	Cache []Vdev `json:"cache"`
	Spare []Vdev `json:"spare"`
}

var (
	ErrIllegalVdevType = errors.New("vdev type not allowed for member count and purpose")
	ErrGroupFull       = errors.New("vdev group holds at most one vdev")
	ErrDiskInUse       = errors.New("disk already assigned to a vdev")
	ErrDiskNotSelected = errors.New("disk not in selected set")
	ErrNestedVdev      = errors.New("vdev children must be disk leaves")
	ErrMalformedVdev   = errors.New("malformed vdev")
	ErrNoSuchVdev      = errors.New("no vdev at index")
	ErrDiskNotInVdev   = errors.New("disk is not a member of vdev")
	ErrUnknownPurpose  = errors.New("unknown vdev purpose")
	ErrUnknownPreset   = errors.New("unknown preset")
	ErrRequiresSSD     = errors.New("log and cache vdevs require SSDs")
)

func (t Topology) Group(p Purpose) []Vdev {
	switch p {
	case PurposeData:
		return t.Data
	case PurposeLog:
		return t.Log
	case PurposeCache:
		return t.Cache
	case PurposeSpare:
		return t.Spare
	}
	return nil
}

func (t *Topology) setGroup(p Purpose, g []Vdev) {
	switch p {
	case PurposeData:
		t.Data = g
	case PurposeLog:
		t.Log = g
	case PurposeCache:
		t.Cache = g
	case PurposeSpare:
		t.Spare = g
	}
}

// Clone returns a deep copy of t.
func (t Topology) Clone() Topology {
	return Topology{
		Data:  cloneGroup(t.Data),
		Log:   cloneGroup(t.Log),
		Cache: cloneGroup(t.Cache),
		Spare: cloneGroup(t.Spare),
	}
}

func cloneGroup(g []Vdev) []Vdev {
	out := make([]Vdev, len(g))
	for i, v := range g {
		out[i] = v.Clone()
	}
	return out
}

func (v Vdev) Clone() Vdev {
	c := Vdev{Type: v.Type, Path: v.Path}
	if v.Children != nil {
		c.Children = make([]Vdev, len(v.Children))
		for i, ch := range v.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// IsEmpty reports whether every group is empty.
func (t Topology) IsEmpty() bool {
	return len(t.Data) == 0 && len(t.Log) == 0 && len(t.Cache) == 0 && len(t.Spare) == 0
}
