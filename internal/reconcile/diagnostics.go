package reconcile

import (
	"errors"

	"nithronos/nosvol/internal/disks"
	"nithronos/nosvol/internal/ledger"
	"nithronos/nosvol/internal/topology"
)

var (
	ErrInvalidID        = errors.New("volume id is required")
	ErrVolumeExists     = errors.New("volume id already in use")
	ErrDraftNotFound    = errors.New("draft not found")
	ErrVolumeNotFound   = errors.New("volume not found")
	ErrServerVolume     = errors.New("volume is confirmed on the server")
	ErrNotActive        = errors.New("volume is not the active volume")
	ErrAlreadySubmitted = errors.New("create request already outstanding")
	ErrNotSubmittable   = errors.New("draft cannot be submitted")
	ErrNoDestroyTarget  = errors.New("no volume marked for destroy")
	ErrNoPayload        = errors.New("response carried no payload")
	ErrStopped          = errors.New("reconcile loop stopped")
)

// DiagnosticKind classifies a non-fatal problem seen during a transition.
type DiagnosticKind string

const (
	DiagInvalidRequest     DiagnosticKind = "invalid_request"
	DiagDraftNotFound      DiagnosticKind = "draft_not_found"
	DiagVolumeNotFound     DiagnosticKind = "volume_not_found"
	DiagServerVolume       DiagnosticKind = "server_volume"
	DiagUnknownPreset      DiagnosticKind = "unknown_preset"
	DiagNotActive          DiagnosticKind = "not_active"
	DiagInvalidEdit        DiagnosticKind = "invalid_edit"
	DiagUnknownCorrelation DiagnosticKind = "unknown_correlation"
	DiagStaleTarget        DiagnosticKind = "stale_target"
	DiagNoPayload          DiagnosticKind = "no_payload"
	DiagRequestFailed      DiagnosticKind = "request_failed"
	DiagActiveFallback     DiagnosticKind = "active_fallback"
	DiagIgnoredEvent       DiagnosticKind = "ignored_event"
	DiagPersistFailed      DiagnosticKind = "persist_failed"
)

// Diagnostic is reported once per problem, alongside a warning log line.
type Diagnostic struct {
	Kind        DiagnosticKind `json:"kind"`
	Volume      string         `json:"volume,omitempty"`
	Correlation string         `json:"correlation,omitempty"`
	Message     string         `json:"message"`
}

func kindOf(err error) DiagnosticKind {
	switch {
	case errors.Is(err, ErrDraftNotFound):
		return DiagDraftNotFound
	case errors.Is(err, ErrVolumeNotFound), errors.Is(err, ErrNoDestroyTarget):
		return DiagVolumeNotFound
	case errors.Is(err, ErrServerVolume):
		return DiagServerVolume
	case errors.Is(err, topology.ErrUnknownPreset):
		return DiagUnknownPreset
	case errors.Is(err, ErrNotActive):
		return DiagNotActive
	case errors.Is(err, ErrNoPayload):
		return DiagNoPayload
	case errors.Is(err, ledger.ErrUnknownCorrelation):
		return DiagUnknownCorrelation
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrVolumeExists),
		errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrNotSubmittable):
		return DiagInvalidRequest
	case errors.Is(err, disks.ErrUnknownDisk),
		errors.Is(err, topology.ErrIllegalVdevType),
		errors.Is(err, topology.ErrGroupFull),
		errors.Is(err, topology.ErrDiskInUse),
		errors.Is(err, topology.ErrNoSuchVdev),
		errors.Is(err, topology.ErrDiskNotInVdev),
		errors.Is(err, topology.ErrUnknownPurpose),
		errors.Is(err, topology.ErrMalformedVdev),
		errors.Is(err, topology.ErrNestedVdev),
		errors.Is(err, topology.ErrDiskNotSelected),
		errors.Is(err, topology.ErrRequiresSSD):
		return DiagInvalidEdit
	}
	return DiagRequestFailed
}

// Recorder receives transition and diagnostic counts. The metrics package
// provides the Prometheus implementation.
type Recorder interface {
	Transition(name string)
	Diagnostic(kind string)
	Ledger(ledger.Counts)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string)    {}
func (nopRecorder) Diagnostic(string)    {}
func (nopRecorder) Ledger(ledger.Counts) {}
