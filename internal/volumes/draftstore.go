package volumes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const draftFileVersion = 1

// DraftStore persists client drafts so they survive a restart. Server
// volumes are never written; they are re-queried on startup.
type DraftStore struct {
	path string
}

type draftFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Drafts  []*Volume `json:"drafts"`
}

func NewDraftStore(path string) *DraftStore { return &DraftStore{path: path} }

func (d *DraftStore) Path() string { return d.path }

// Save writes drafts under an exclusive lock, replacing the file atomically.
func (d *DraftStore) Save(drafts map[string]*Volume) error {
	list := make([]*Volume, 0, len(drafts))
	for _, v := range drafts {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	doc := draftFile{Version: draftFileVersion, SavedAt: time.Now().UTC(), Drafts: list}
	return d.withLock(func() error { return writeAtomic(d.path, doc) })
}

// InterruptedError is set on drafts that were CREATING when the process
// stopped.
const InterruptedError = "create interrupted by restart"

// Load reads persisted drafts. A missing file yields an empty map.
// Drafts left in SUBMITTING go back to NEW_ON_CLIENT: the acknowledgement for
// their request cannot reach a new process. Drafts left in CREATING become
// CREATE_FAILED since their task binding is gone; if the server did finish
// the create, the next volumes query claims them through GUIID.
func (d *DraftStore) Load() (map[string]*Volume, error) {
	var doc draftFile
	err := d.withLock(func() error {
		_ = os.Remove(d.path + ".tmp")
		b, err := os.ReadFile(d.path)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return nil
		}
		return json.Unmarshal(b, &doc)
	})
	out := map[string]*Volume{}
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load drafts %s: %w", d.path, err)
	}
	if doc.Version > draftFileVersion {
		return nil, fmt.Errorf("load drafts %s: unsupported version %d", d.path, doc.Version)
	}
	for _, v := range doc.Drafts {
		if v == nil || v.ID == "" {
			continue
		}
		switch v.State {
		case StateSubmitting, StateServer:
			v.State = StateNewOnClient
		case StateCreating:
			v.State = StateCreateFailed
			v.Error = InterruptedError
		}
		if v.SelectedDisks == nil {
			v.SelectedDisks = NewDiskSet()
		}
		out[v.ID] = v
	}
	return out, nil
}

func (d *DraftStore) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}
	unlock, err := lockExclusive(d.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func writeAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return syncDir(filepath.Dir(path))
}
