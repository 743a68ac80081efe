package volumes

import (
	"encoding/json"
	"sort"

	"nithronos/nosvol/internal/topology"
)

// State is the lifecycle state of a draft. Server volumes carry StateServer.
type State string

const (
	StateServer       State = ""
	StateNewOnClient  State = "NEW_ON_CLIENT"
	StateSubmitting   State = "SUBMITTING"
	StateCreating     State = "CREATING"
	StateCreateFailed State = "CREATE_FAILED"
)

// Submitted reports whether a create request for the draft is in flight.
func (s State) Submitted() bool {
	return s == StateSubmitting || s == StateCreating
}

// DiskSet is a set of disk paths. It encodes as a sorted JSON array.
type DiskSet map[string]struct{}

func NewDiskSet(paths ...string) DiskSet {
	s := make(DiskSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func (s DiskSet) Add(p string)         { s[p] = struct{}{} }
func (s DiskSet) Remove(p string)      { delete(s, p) }
func (s DiskSet) Clone() DiskSet       { return NewDiskSet(s.Sorted()...) }
func (s DiskSet) Len() int             { return len(s) }
func (s DiskSet) Equal(o DiskSet) bool { return len(s) == len(o) && s.containsAll(o) }

func (s DiskSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

func (s DiskSet) containsAll(o DiskSet) bool {
	for p := range o {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

func (s DiskSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s DiskSet) MarshalJSON() ([]byte, error) { return json.Marshal(s.Sorted()) }

func (s *DiskSet) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*s = NewDiskSet(list...)
	return nil
}

// Volume is a pool, either a client draft or a server-confirmed entity.
//
// GUIID is the back-reference a server entity carries to the transient draft
// ID it was created from. It is the only link between a draft and its server
// counterpart.
type Volume struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	State         State             `json:"volumeState,omitempty"`
	Topology      topology.Topology `json:"topology"`
	Preset        string            `json:"preset"`
	SelectedDisks DiskSet           `json:"selectedDisks"`
	GUIID         string            `json:"guiId,omitempty"`
	Error         string            `json:"error,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// NewDraft returns a draft in NEW_ON_CLIENT with a blank topology.
func NewDraft(id, name string) *Volume {
	return &Volume{
		ID:            id,
		Name:          name,
		State:         StateNewOnClient,
		Topology:      topology.CreateBlankTopology(),
		Preset:        topology.PresetNone,
		SelectedDisks: NewDiskSet(),
	}
}

func (v *Volume) Clone() *Volume {
	if v == nil {
		return nil
	}
	c := *v
	c.Topology = v.Topology.Clone()
	if v.SelectedDisks != nil {
		c.SelectedDisks = v.SelectedDisks.Clone()
	}
	if v.Attributes != nil {
		c.Attributes = make(map[string]string, len(v.Attributes))
		for k, val := range v.Attributes {
			c.Attributes[k] = val
		}
	}
	return &c
}

// SetTopology replaces the topology and resyncs the selection to its members.
func (v *Volume) SetTopology(t topology.Topology) {
	v.Topology = t
	v.SelectedDisks = NewDiskSet(topology.Members(t)...)
}

// Patch is a partial update to a draft. Nil fields are left alone;
// Attributes are merged key by key, an empty value deletes the key.
type Patch struct {
	Name       *string            `json:"name,omitempty"`
	Topology   *topology.Topology `json:"topology,omitempty"`
	Attributes map[string]string  `json:"attributes,omitempty"`
}

func (v *Volume) Apply(p Patch) {
	if p.Name != nil {
		v.Name = *p.Name
	}
	if p.Topology != nil {
		v.SetTopology(p.Topology.Clone())
	}
	if len(p.Attributes) > 0 && v.Attributes == nil {
		v.Attributes = map[string]string{}
	}
	for k, val := range p.Attributes {
		if val == "" {
			delete(v.Attributes, k)
			continue
		}
		v.Attributes[k] = val
	}
}
