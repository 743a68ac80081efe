package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/volumes"
)

type intentResponse struct {
	ID          string                 `json:"id,omitempty"`
	Correlation string                 `json:"correlationId,omitempty"`
	State       reconcile.Snapshot     `json:"state"`
	Diagnostics []reconcile.Diagnostic `json:"diagnostics"`
}

// apply runs fn as one transition and writes the resulting state, or the
// error envelope with the transition's diagnostics attached.
func (a *api) apply(w http.ResponseWriter, r *http.Request, name string, status int, fn func(*reconcile.Controller) error, decorate ...func(*intentResponse)) {
	res, err := a.loop.Do(r.Context(), name, fn)
	if err != nil {
		writeErr(w, err, res.Diagnostics)
		return
	}
	resp := intentResponse{State: res.Snapshot, Diagnostics: nonNil(res.Diagnostics)}
	for _, d := range decorate {
		d(&resp)
	}
	writeJSON(w, status, resp)
}

func nonNil(d []reconcile.Diagnostic) []reconcile.Diagnostic {
	if d == nil {
		return []reconcile.Diagnostic{}
	}
	return d
}

func (a *api) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := a.loop.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.ID == "" {
		body.ID = a.newID()
	}
	a.apply(w, r, "initialize", http.StatusCreated, func(c *reconcile.Controller) error {
		return c.Initialize(body.ID, body.Name)
	}, func(resp *intentResponse) { resp.ID = body.ID })
}

func (a *api) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p volumes.Patch
	if !decode(w, r, &p) {
		return
	}
	a.apply(w, r, "update", http.StatusOK, func(c *reconcile.Controller) error { return c.Update(id, p) })
}

func (a *api) handleRevert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.apply(w, r, "revert", http.StatusOK, func(c *reconcile.Controller) error { return c.Revert(id) })
}

func (a *api) handleFocus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.apply(w, r, "focus", http.StatusOK, func(c *reconcile.Controller) error { return c.Focus(id) })
}

func (a *api) handleBlur(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.apply(w, r, "blur", http.StatusOK, func(c *reconcile.Controller) error { return c.Blur(id) })
}

type diskBody struct {
	Path string `json:"path"`
}

func (a *api) handleSelectDisk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body diskBody
	if !decode(w, r, &body) {
		return
	}
	a.apply(w, r, "select_disk", http.StatusOK, func(c *reconcile.Controller) error {
		return c.SelectDisk(id, body.Path)
	})
}

func (a *api) handleDeselectDisk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body diskBody
	if !decode(w, r, &body) {
		return
	}
	a.apply(w, r, "deselect_disk", http.StatusOK, func(c *reconcile.Controller) error {
		return c.DeselectDisk(id, body.Path)
	})
}

// Nil disk lists let the controller draw from the available set.
type allocationBody struct {
	HDDs []string `json:"hdds"`
	SSDs []string `json:"ssds"`
}

func (a *api) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Name string `json:"name"`
		allocationBody
	}
	if !decode(w, r, &body) {
		return
	}
	a.apply(w, r, "apply_preset", http.StatusOK, func(c *reconcile.Controller) error {
		return c.ApplyPreset(id, body.Name, body.HDDs, body.SSDs)
	})
}

func (a *api) handleUpdateTopology(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Preferences topology.Preferences `json:"preferences"`
		allocationBody
	}
	if !decode(w, r, &body) {
		return
	}
	a.apply(w, r, "update_topology", http.StatusOK, func(c *reconcile.Controller) error {
		return c.UpdateTopology(id, body.Preferences, body.HDDs, body.SSDs)
	})
}

func (a *api) handleRevertTopology(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.apply(w, r, "revert_topology", http.StatusOK, func(c *reconcile.Controller) error {
		return c.RevertTopology(id)
	})
}

type vdevBody struct {
	Index int               `json:"index"`
	Path  string            `json:"path,omitempty"`
	Type  topology.VdevType `json:"type,omitempty"`
}

func (a *api) vdevEdit(w http.ResponseWriter, r *http.Request, name string, fn func(c *reconcile.Controller, id string, p topology.Purpose, b vdevBody) error) {
	id := chi.URLParam(r, "id")
	purpose := topology.Purpose(chi.URLParam(r, "purpose"))
	var body vdevBody
	if !decode(w, r, &body) {
		return
	}
	a.apply(w, r, name, http.StatusOK, func(c *reconcile.Controller) error { return fn(c, id, purpose, body) })
}

func (a *api) handleAddVdevDisk(w http.ResponseWriter, r *http.Request) {
	a.vdevEdit(w, r, "add_vdev_disk", func(c *reconcile.Controller, id string, p topology.Purpose, b vdevBody) error {
		return c.AddVdevDisk(id, p, b.Index, b.Path)
	})
}

func (a *api) handleRemoveVdevDisk(w http.ResponseWriter, r *http.Request) {
	a.vdevEdit(w, r, "remove_vdev_disk", func(c *reconcile.Controller, id string, p topology.Purpose, b vdevBody) error {
		return c.RemoveVdevDisk(id, p, b.Index, b.Path)
	})
}

func (a *api) handleNukeVdev(w http.ResponseWriter, r *http.Request) {
	a.vdevEdit(w, r, "nuke_vdev", func(c *reconcile.Controller, id string, p topology.Purpose, b vdevBody) error {
		return c.NukeVdev(id, p, b.Index)
	})
}

func (a *api) handleChangeVdevType(w http.ResponseWriter, r *http.Request) {
	a.vdevEdit(w, r, "change_vdev_type", func(c *reconcile.Controller, id string, p topology.Purpose, b vdevBody) error {
		return c.ChangeVdevType(id, p, b.Index, b.Type)
	})
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.request(w, r, "submit", func(ctx context.Context, c *reconcile.Controller) (string, error) {
		return c.Submit(ctx, id)
	})
}

func (a *api) handleIntendDestroy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.apply(w, r, "intend_destroy", http.StatusOK, func(c *reconcile.Controller) error { return c.IntendDestroy(id) })
}

func (a *api) handleCancelDestroy(w http.ResponseWriter, r *http.Request) {
	a.apply(w, r, "cancel_destroy", http.StatusOK, func(c *reconcile.Controller) error {
		c.CancelDestroy()
		return nil
	})
}

func (a *api) handleConfirmDestroy(w http.ResponseWriter, r *http.Request) {
	a.request(w, r, "confirm_destroy", func(ctx context.Context, c *reconcile.Controller) (string, error) {
		return c.ConfirmDestroy(ctx)
	})
}

func (a *api) handleFetchVolumes(w http.ResponseWriter, r *http.Request) {
	a.request(w, r, "fetch_volumes", func(ctx context.Context, c *reconcile.Controller) (string, error) {
		return c.FetchVolumes(ctx)
	})
}

func (a *api) handleFetchDisks(w http.ResponseWriter, r *http.Request) {
	a.request(w, r, "fetch_available_disks", func(ctx context.Context, c *reconcile.Controller) (string, error) {
		return c.FetchAvailableDisks(ctx)
	})
}

// request is apply for intents that issue a server request; the response
// carries its correlation ID.
func (a *api) request(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, *reconcile.Controller) (string, error)) {
	var corr string
	ctx := r.Context()
	a.apply(w, r, name, http.StatusAccepted, func(c *reconcile.Controller) error {
		var err error
		corr, err = fn(ctx, c)
		return err
	}, func(resp *intentResponse) { resp.Correlation = corr })
}

func (a *api) handleVolumeBreakdown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var b topology.Breakdown
	err := a.loop.Read(r.Context(), func(c *reconcile.Controller) error {
		var err error
		b, err = c.Breakdown(id)
		return err
	})
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
