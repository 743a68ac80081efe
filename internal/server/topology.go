package server

import (
	"errors"
	"net/http"

	"github.com/hashicorp/go-multierror"

	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/topology"
)

func (a *api) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": append([]string{topology.PresetNone}, a.presets.Names()...)})
}

func (a *api) handleAllowedTypes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VolumeID string           `json:"volumeId"`
		Purpose  topology.Purpose `json:"purpose"`
		Index    int              `json:"index"`
		Members  []string         `json:"members"`
	}
	if !decode(w, r, &body) {
		return
	}
	if !body.Purpose.Valid() {
		writeErr(w, topology.ErrUnknownPurpose, nil)
		return
	}
	var types []topology.VdevType
	err := a.loop.Read(r.Context(), func(c *reconcile.Controller) error {
		types = c.AllowedTypes(body.VolumeID, body.Purpose, body.Index, body.Members)
		return nil
	})
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": types})
}

func (a *api) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vdevs []topology.Vdev `json:"vdevs"`
	}
	if !decode(w, r, &body) {
		return
	}
	var b topology.Breakdown
	err := a.loop.Read(r.Context(), func(c *reconcile.Controller) error {
		var err error
		b, err = topology.CalculateBreakdown(body.Vdevs, c.Catalog())
		return err
	})
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *api) handleValidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Topology topology.Topology `json:"topology"`
		Selected []string          `json:"selected"`
	}
	if !decode(w, r, &body) {
		return
	}
	problems := []string{}
	if err := topology.Validate(body.Topology, body.Selected); err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				problems = append(problems, e.Error())
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(problems) == 0, "problems": problems})
}
