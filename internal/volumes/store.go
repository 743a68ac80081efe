// Package volumes holds the volume entity store: server-confirmed volumes,
// client drafts, the active-volume pointer and the destroy intent.
package volumes

import "sort"

// Source names the map a volume ID resolved from.
type Source string

const (
	SourceNone   Source = ""
	SourceServer Source = "server"
	SourceClient Source = "client"
)

// Fallback describes an automatic change of the active volume.
type Fallback struct {
	From   string
	To     string
	Source Source
}

// Store is not safe for concurrent use; the reconcile loop owns it.
type Store struct {
	server          map[string]*Volume
	client          map[string]*Volume
	active          string
	volumeToDestroy string
	availableDisks  DiskSet
	// pendingClaim is a server ID the active pointer moved to before the
	// volume itself arrived.
	pendingClaim string
}

func NewStore() *Store {
	return &Store{
		server: map[string]*Volume{},
		client: map[string]*Volume{},
	}
}

func (s *Store) Server(id string) (*Volume, bool) {
	v, ok := s.server[id]
	return v, ok
}

func (s *Store) Client(id string) (*Volume, bool) {
	v, ok := s.client[id]
	return v, ok
}

// Lookup resolves id against the client drafts first, then the server map.
func (s *Store) Lookup(id string) (*Volume, Source) {
	if v, ok := s.client[id]; ok {
		return v, SourceClient
	}
	if v, ok := s.server[id]; ok {
		return v, SourceServer
	}
	return nil, SourceNone
}

func (s *Store) PutClient(v *Volume) { s.client[v.ID] = v }

func (s *Store) DeleteClient(id string) bool {
	_, ok := s.client[id]
	delete(s.client, id)
	return ok
}

// ReplaceServer swaps the whole server map for list.
func (s *Store) ReplaceServer(list []*Volume) {
	s.server = make(map[string]*Volume, len(list))
	for _, v := range list {
		if v == nil || v.ID == "" {
			continue
		}
		v.State = StateServer
		s.server[v.ID] = v
	}
	s.pendingClaim = ""
}

func (s *Store) UpsertServer(v *Volume) {
	v.State = StateServer
	s.server[v.ID] = v
	if s.pendingClaim == v.ID {
		s.pendingClaim = ""
	}
}

func (s *Store) DeleteServer(id string) bool {
	_, ok := s.server[id]
	delete(s.server, id)
	if s.pendingClaim == id {
		s.pendingClaim = ""
	}
	return ok
}

// ClaimedDrafts returns the client draft IDs that a server volume
// references through GUIID, keyed by draft ID.
func (s *Store) ClaimedDrafts() map[string]string {
	out := map[string]string{}
	for id, v := range s.server {
		if v.GUIID == "" {
			continue
		}
		if _, ok := s.client[v.GUIID]; ok {
			out[v.GUIID] = id
		}
	}
	return out
}

// DraftsInState returns the IDs of client drafts in any of states.
func (s *Store) DraftsInState(states ...State) []string {
	var out []string
	for id, v := range s.client {
		for _, st := range states {
			if v.State == st {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) Active() string      { return s.active }
func (s *Store) SetActive(id string) { s.active = id }

// PendingClaim is the server ID announced without a payload, kept until a
// volumes query, upsert or delete settles it.
func (s *Store) PendingClaim() string      { return s.pendingClaim }
func (s *Store) SetPendingClaim(id string) { s.pendingClaim = id }

func (s *Store) VolumeToDestroy() string      { return s.volumeToDestroy }
func (s *Store) SetVolumeToDestroy(id string) { s.volumeToDestroy = id }

// AvailableDisks is nil until the first successful fetch.
func (s *Store) AvailableDisks() DiskSet     { return s.availableDisks }
func (s *Store) SetAvailableDisks(d DiskSet) { s.availableDisks = d }

// IsAvailable reports whether path is in the available set. Before the first
// fetch every path counts as available.
func (s *Store) IsAvailable(path string) bool {
	if s.availableDisks == nil {
		return true
	}
	return s.availableDisks.Has(path)
}

// ReconcileActive keeps the active ID if it still resolves or is the pending
// claim. Otherwise it
// falls back to a server volume, then a client draft, then "". The lowest
// ID is chosen so the result is deterministic. A non-nil Fallback is
// returned when a previously set ID was replaced.
func (s *Store) ReconcileActive() *Fallback {
	prev := s.active
	if prev != "" {
		if prev == s.pendingClaim {
			return nil
		}
		if _, src := s.Lookup(prev); src != SourceNone {
			return nil
		}
	}
	next, src := firstKey(s.server), SourceServer
	if next == "" {
		next, src = firstKey(s.client), SourceClient
	}
	if next == "" {
		src = SourceNone
	}
	s.active = next
	if prev == "" {
		return nil
	}
	return &Fallback{From: prev, To: next, Source: src}
}

func firstKey(m map[string]*Volume) string {
	first := ""
	for id := range m {
		if first == "" || id < first {
			first = id
		}
	}
	return first
}

// View is a detached deep copy of the store.
type View struct {
	ServerVolumes   map[string]*Volume `json:"serverVolumes"`
	ClientVolumes   map[string]*Volume `json:"clientVolumes"`
	ActiveVolumeID  string             `json:"activeVolumeId"`
	VolumeToDestroy string             `json:"volumeToDestroy,omitempty"`
	PendingClaim    string             `json:"pendingClaim,omitempty"`
	AvailableDisks  []string           `json:"availableDisks"`
	DisksFetched    bool               `json:"availableDisksFetched"`
}

func (s *Store) View() View {
	v := View{
		ServerVolumes:   cloneMap(s.server),
		ClientVolumes:   cloneMap(s.client),
		ActiveVolumeID:  s.active,
		VolumeToDestroy: s.volumeToDestroy,
		PendingClaim:    s.pendingClaim,
		AvailableDisks:  []string{},
		DisksFetched:    s.availableDisks != nil,
	}
	if s.availableDisks != nil {
		v.AvailableDisks = s.availableDisks.Sorted()
	}
	return v
}

// Drafts returns a deep copy of the client map.
func (s *Store) Drafts() map[string]*Volume { return cloneMap(s.client) }

// LoadDrafts installs persisted drafts, keeping any already present.
func (s *Store) LoadDrafts(m map[string]*Volume) {
	for id, v := range m {
		if _, ok := s.client[id]; !ok {
			s.client[id] = v
		}
	}
}

func cloneMap(m map[string]*Volume) map[string]*Volume {
	out := make(map[string]*Volume, len(m))
	for id, v := range m {
		out[id] = v.Clone()
	}
	return out
}
