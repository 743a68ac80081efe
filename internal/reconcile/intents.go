package reconcile

import (
	"context"
	"fmt"

	"nithronos/nosvol/internal/disks"
	"nithronos/nosvol/internal/ledger"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/volumes"
)

// Initialize creates a draft under the caller's transient id and makes it
// the active volume.
func (c *Controller) Initialize(id, name string) error {
	if id == "" {
		return c.reject("initialize", id, ErrInvalidID)
	}
	if _, src := c.store.Lookup(id); src != volumes.SourceNone {
		return c.reject("initialize", id, fmt.Errorf("%w: %s", ErrVolumeExists, id))
	}
	c.store.PutClient(volumes.NewDraft(id, name))
	c.store.SetActive(id)
	c.dirty = true
	return nil
}

// Update merges p into the draft. A replaced topology must be well formed;
// it also clears the preset.
func (c *Controller) Update(id string, p volumes.Patch) error {
	v, err := c.draft(id)
	if err != nil {
		return c.reject("update", id, err)
	}
	if p.Topology != nil {
		if err := topology.Validate(*p.Topology, topology.Members(*p.Topology)); err != nil {
			return c.reject("update", id, err)
		}
		fast := topology.Topology{Log: p.Topology.Log, Cache: p.Topology.Cache}
		for _, path := range topology.Members(fast) {
			if err := c.requireSSD(path); err != nil {
				return c.reject("update", id, err)
			}
		}
	}
	v.Apply(p)
	if p.Topology != nil {
		v.Preset = topology.PresetNone
	}
	c.edited(v)
	return nil
}

// Revert discards a draft. Create requests it has in flight stay in the
// ledger; their resolutions are ignored once they arrive.
func (c *Controller) Revert(id string) error {
	if !c.store.DeleteClient(id) {
		return c.reject("revert", id, fmt.Errorf("%w: %s", ErrDraftNotFound, id))
	}
	c.dirty = true
	c.reconcileActive()
	return nil
}

func (c *Controller) SelectDisk(id, path string) error {
	v, err := c.draft(id)
	if err != nil {
		return c.reject("select disk", id, err)
	}
	if _, err := c.catalog.Lookup(path); err != nil {
		return c.reject("select disk", id, err)
	}
	if v.SelectedDisks.Has(path) {
		return nil
	}
	v.SelectedDisks.Add(path)
	c.edited(v)
	return nil
}

// DeselectDisk drops path from the selection. A disk still used by the
// topology is taken out of its vdev as well.
func (c *Controller) DeselectDisk(id, path string) error {
	v, err := c.draft(id)
	if err != nil {
		return c.reject("deselect disk", id, err)
	}
	if !v.SelectedDisks.Has(path) {
		return nil
	}
	if purpose, index, ok := locate(v.Topology, path); ok {
		t, err := topology.RemoveDisk(v.Topology, purpose, index, path)
		if err != nil {
			return c.reject("deselect disk", id, err)
		}
		v.SetTopology(t)
	}
	v.SelectedDisks.Remove(path)
	c.edited(v)
	return nil
}

func locate(t topology.Topology, path string) (topology.Purpose, int, bool) {
	for _, p := range topology.Purposes {
		for i, vd := range t.Group(p) {
			for _, m := range topology.MemberDiskPaths(vd) {
				if m == path {
					return p, i, true
				}
			}
		}
	}
	return "", 0, false
}

// ApplyPreset lays out the draft from a named preset. "None" resets it to a
// blank topology. When hdds and ssds are both nil the available disks of the
// catalog are used.
func (c *Controller) ApplyPreset(id, name string, hdds, ssds []string) error {
	if _, ok := c.store.Server(id); ok {
		return c.reject("apply preset", id, fmt.Errorf("%w: %s", ErrServerVolume, id))
	}
	v, err := c.draft(id)
	if err != nil {
		return c.reject("apply preset", id, err)
	}
	if topology.IsNone(name) {
		v.SetTopology(topology.CreateBlankTopology())
		v.Preset = topology.PresetNone
		c.edited(v)
		return nil
	}
	prefs, err := c.presets.Lookup(name)
	if err != nil {
		return c.reject("apply preset", id, err)
	}
	c.allocate(v, prefs, hdds, ssds)
	v.Preset = name
	c.edited(v)
	return nil
}

// UpdateTopology lays out the draft from custom preferences.
func (c *Controller) UpdateTopology(id string, prefs topology.Preferences, hdds, ssds []string) error {
	v, err := c.draft(id)
	if err != nil {
		return c.reject("update topology", id, err)
	}
	c.allocate(v, prefs, hdds, ssds)
	v.Preset = topology.PresetNone
	c.edited(v)
	return nil
}

func (c *Controller) allocate(v *volumes.Volume, prefs topology.Preferences, hdds, ssds []string) {
	if hdds == nil && ssds == nil {
		hdds, ssds = c.availableLists()
	}
	t, selected := topology.CreateTopology(hdds, ssds, prefs)
	v.Topology = t
	v.SelectedDisks = volumes.NewDiskSet(selected...)
}

// RevertTopology clears the draft's layout, preset and selection.
func (c *Controller) RevertTopology(id string) error {
	v, err := c.draft(id)
	if err != nil {
		return c.reject("revert topology", id, err)
	}
	v.SetTopology(topology.CreateBlankTopology())
	v.Preset = topology.PresetNone
	c.edited(v)
	return nil
}

func (c *Controller) AddVdevDisk(id string, purpose topology.Purpose, index int, path string) error {
	return c.editTopology("add vdev disk", id, func(t topology.Topology) (topology.Topology, error) {
		if _, err := c.catalog.Lookup(path); err != nil {
			return t, err
		}
		if purpose == topology.PurposeLog || purpose == topology.PurposeCache {
			if err := c.requireSSD(path); err != nil {
				return t, err
			}
		}
		return topology.AddDisk(t, purpose, index, path)
	})
}

func (c *Controller) requireSSD(path string) error {
	d, err := c.catalog.Lookup(path)
	if err != nil {
		return err
	}
	if d.Class != disks.ClassSSD {
		return fmt.Errorf("%w: %s is %s", topology.ErrRequiresSSD, path, d.Class)
	}
	return nil
}

func (c *Controller) RemoveVdevDisk(id string, purpose topology.Purpose, index int, path string) error {
	return c.editTopology("remove vdev disk", id, func(t topology.Topology) (topology.Topology, error) {
		return topology.RemoveDisk(t, purpose, index, path)
	})
}

func (c *Controller) NukeVdev(id string, purpose topology.Purpose, index int) error {
	return c.editTopology("nuke vdev", id, func(t topology.Topology) (topology.Topology, error) {
		return topology.NukeVdev(t, purpose, index)
	})
}

func (c *Controller) ChangeVdevType(id string, purpose topology.Purpose, index int, typ topology.VdevType) error {
	return c.editTopology("change vdev type", id, func(t topology.Topology) (topology.Topology, error) {
		return topology.ChangeVdevType(t, purpose, index, typ)
	})
}

// editTopology applies fn to a draft's topology. Manual edits detach the
// draft from its preset and keep the selection equal to the member disks.
func (c *Controller) editTopology(op, id string, fn func(topology.Topology) (topology.Topology, error)) error {
	v, err := c.draft(id)
	if err != nil {
		return c.reject(op, id, err)
	}
	t, err := fn(v.Topology)
	if err != nil {
		return c.reject(op, id, err)
	}
	v.SetTopology(t)
	v.Preset = topology.PresetNone
	c.edited(v)
	return nil
}

// Focus makes id the active volume.
func (c *Controller) Focus(id string) error {
	if _, src := c.store.Lookup(id); src == volumes.SourceNone {
		return c.reject("focus", id, fmt.Errorf("%w: %s", ErrVolumeNotFound, id))
	}
	c.store.SetActive(id)
	return nil
}

// Blur clears the active volume. It is a caller error unless id is active.
func (c *Controller) Blur(id string) error {
	if c.store.Active() != id {
		return c.reject("blur", id, fmt.Errorf("%w: %s", ErrNotActive, id))
	}
	c.store.SetActive("")
	return nil
}

// IntendDestroy marks a server volume for destruction pending confirmation.
func (c *Controller) IntendDestroy(id string) error {
	if _, ok := c.store.Server(id); !ok {
		return c.reject("intend destroy", id, fmt.Errorf("%w: %s", ErrVolumeNotFound, id))
	}
	c.store.SetVolumeToDestroy(id)
	return nil
}

func (c *Controller) CancelDestroy() { c.store.SetVolumeToDestroy("") }

// ConfirmDestroy issues the destroy request for the marked volume. The marker
// stays until the request resolves.
func (c *Controller) ConfirmDestroy(ctx context.Context) (string, error) {
	id := c.store.VolumeToDestroy()
	if id == "" {
		return "", c.reject("confirm destroy", "", ErrNoDestroyTarget)
	}
	return c.request(ctx, ledger.KindDestroyTask, id, MethodDestroy, DestroyArgs{ID: id})
}

func (c *Controller) FetchVolumes(ctx context.Context) (string, error) {
	return c.request(ctx, ledger.KindVolumesQuery, "", MethodQuery, nil)
}

func (c *Controller) FetchAvailableDisks(ctx context.Context) (string, error) {
	return c.request(ctx, ledger.KindAvailableDisksQuery, "", MethodAvailableDisks, nil)
}

func (c *Controller) request(ctx context.Context, k ledger.Kind, volume, method string, args any) (string, error) {
	corr, err := c.transport.Request(ctx, method, args)
	if err != nil {
		c.warn(DiagRequestFailed, volume, "", fmt.Sprintf("%s: %v", method, err))
		return "", err
	}
	if err := c.ledger.Record(k, corr); err != nil {
		c.warn(DiagUnknownCorrelation, volume, corr, fmt.Sprintf("%s: %v", method, err))
		return "", err
	}
	c.logger.Debug().Str("method", method).Str("correlation", corr).Msg("request issued")
	return corr, nil
}

// Submit sends the draft's create request and moves it to SUBMITTING.
func (c *Controller) Submit(ctx context.Context, id string) (string, error) {
	v, err := c.draft(id)
	if err != nil {
		return "", c.reject("submit", id, err)
	}
	if v.State.Submitted() {
		return "", c.reject("submit", id, fmt.Errorf("%w: %s is %s", ErrAlreadySubmitted, id, v.State))
	}
	if err := submittable(v); err != nil {
		return "", c.reject("submit", id, err)
	}
	args := CreateArgs{Name: v.Name, Topology: v.Topology.Clone(), GUIID: v.ID, Attributes: v.Attributes}
	corr, err := c.transport.Request(ctx, MethodCreate, args)
	if err != nil {
		c.warn(DiagRequestFailed, id, "", fmt.Sprintf("%s: %v", MethodCreate, err))
		return "", err
	}
	if err := c.ledger.RecordCreate(corr, id); err != nil {
		c.warn(DiagUnknownCorrelation, id, corr, fmt.Sprintf("%s: %v", MethodCreate, err))
		return "", err
	}
	v.State = volumes.StateSubmitting
	v.Error = ""
	c.dirty = true
	c.logger.Info().Str("volume", id).Str("correlation", corr).Msg("create submitted")
	return corr, nil
}

func submittable(v *volumes.Volume) error {
	if v.Name == "" {
		return fmt.Errorf("%w: name is required", ErrNotSubmittable)
	}
	if len(v.Topology.Data) == 0 {
		return fmt.Errorf("%w: no data vdevs", ErrNotSubmittable)
	}
	for _, vd := range v.Topology.Data {
		if vd.Type == topology.Empty {
			return fmt.Errorf("%w: unconfigured data vdev", ErrNotSubmittable)
		}
	}
	if err := topology.Validate(v.Topology, v.SelectedDisks.Sorted()); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSubmittable, err)
	}
	return nil
}
