package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"nithronos/nosvol/internal/disks"
	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/transport"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeError writes {"error": {"code":"...","message":"..."}}.
func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": ErrorPayload{Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorClass struct {
	err    error
	status int
	code   string
}

var errorClasses = []errorClass{
	{reconcile.ErrDraftNotFound, http.StatusNotFound, "volume.draft_not_found"},
	{reconcile.ErrVolumeNotFound, http.StatusNotFound, "volume.not_found"},
	{reconcile.ErrNoDestroyTarget, http.StatusNotFound, "volume.no_destroy_target"},
	{transport.ErrUnknownID, http.StatusNotFound, "bridge.unknown_request"},
	{reconcile.ErrServerVolume, http.StatusConflict, "volume.on_server"},
	{reconcile.ErrVolumeExists, http.StatusConflict, "volume.exists"},
	{reconcile.ErrAlreadySubmitted, http.StatusConflict, "volume.already_submitted"},
	{reconcile.ErrInvalidID, http.StatusUnprocessableEntity, "volume.invalid_id"},
	{reconcile.ErrNotActive, http.StatusUnprocessableEntity, "volume.not_active"},
	{reconcile.ErrNotSubmittable, http.StatusUnprocessableEntity, "volume.not_submittable"},
	{topology.ErrUnknownPreset, http.StatusUnprocessableEntity, "preset.unknown"},
	{disks.ErrUnknownDisk, http.StatusUnprocessableEntity, "disk.unknown"},
	{topology.ErrUnknownPurpose, http.StatusUnprocessableEntity, "topology.unknown_purpose"},
	{topology.ErrIllegalVdevType, http.StatusUnprocessableEntity, "topology.illegal_type"},
	{topology.ErrGroupFull, http.StatusUnprocessableEntity, "topology.group_full"},
	{topology.ErrDiskInUse, http.StatusUnprocessableEntity, "topology.disk_in_use"},
	{topology.ErrNoSuchVdev, http.StatusUnprocessableEntity, "topology.no_such_vdev"},
	{topology.ErrDiskNotInVdev, http.StatusUnprocessableEntity, "topology.disk_not_in_vdev"},
	{topology.ErrDiskNotSelected, http.StatusUnprocessableEntity, "topology.disk_not_selected"},
	{topology.ErrMalformedVdev, http.StatusUnprocessableEntity, "topology.malformed_vdev"},
	{topology.ErrNestedVdev, http.StatusUnprocessableEntity, "topology.nested_vdev"},
	{topology.ErrRequiresSSD, http.StatusUnprocessableEntity, "topology.requires_ssd"},
	{transport.ErrUnknownMask, http.StatusBadRequest, "bridge.unknown_mask"},
	{transport.ErrBadOutcome, http.StatusBadRequest, "bridge.bad_outcome"},
	{transport.ErrBadResult, http.StatusBadRequest, "bridge.bad_result"},
	{transport.ErrUnknownMethod, http.StatusBadRequest, "bridge.unknown_method"},
	{transport.ErrQueueFull, http.StatusServiceUnavailable, "bridge.queue_full"},
	{transport.ErrClosed, http.StatusServiceUnavailable, "bridge.closed"},
	{reconcile.ErrStopped, http.StatusServiceUnavailable, "controller.stopped"},
}

func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeErr(w http.ResponseWriter, err error, diags []reconcile.Diagnostic) {
	status, code := classify(err)
	var details any
	if len(diags) > 0 {
		details = map[string]any{"diagnostics": diags}
	}
	writeError(w, status, code, err.Error(), details)
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_json", err.Error(), nil)
		return false
	}
	return true
}
