package reconcile

import "nithronos/nosvol/internal/volumes"

// Outcome is how the transport resolved a correlated request. Timeout is
// handled exactly like Failure.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimeout:
		return true
	}
	return false
}

// Resolution is the common part of every correlated resolution event.
type Resolution struct {
	Correlation string  `json:"correlationId"`
	Outcome     Outcome `json:"outcome"`
	Error       string  `json:"error,omitempty"`
}

func (r Resolution) failed() bool { return r.Outcome != OutcomeSuccess }

// Event is an inbound event for the controller. The set of events is closed:
// every implementation lives in this package and Handler has one method per
// kind.
type Event interface {
	Visit(Handler)
	Name() string
	event()
}

// Handler receives events by kind.
type Handler interface {
	OnVolumesQueried(VolumesQueried)
	OnAvailableDisksQueried(AvailableDisksQueried)
	OnCreateAcknowledged(CreateAcknowledged)
	OnDestroyAcknowledged(DestroyAcknowledged)
	OnTaskChanged(TaskChanged)
	OnVolumesChanged(VolumesChanged)
	OnDisksChanged(DisksChanged)
}

// VolumesQueried resolves a volume.query request. A nil Volumes on success
// means the response carried no payload.
type VolumesQueried struct {
	Resolution
	Volumes []*volumes.Volume
}

// AvailableDisksQueried resolves a volume.get_available_disks request.
type AvailableDisksQueried struct {
	Resolution
	Disks []string
}

// CreateAcknowledged resolves a volume.create request. TaskID is the server
// task that will carry out the creation, when the transport reports one.
type CreateAcknowledged struct {
	Resolution
	TaskID string
}

type DestroyAcknowledged struct {
	Resolution
}

// TaskPhase is the lifecycle point a task event reports.
type TaskPhase string

const (
	TaskCreated  TaskPhase = "created"
	TaskUpdated  TaskPhase = "updated"
	TaskProgress TaskPhase = "progress"
	TaskFinished TaskPhase = "finished"
	TaskFailed   TaskPhase = "failed"
)

func (p TaskPhase) Terminal() bool { return p == TaskFinished || p == TaskFailed }

func (p TaskPhase) Valid() bool {
	switch p {
	case TaskCreated, TaskUpdated, TaskProgress, TaskFinished, TaskFailed:
		return true
	}
	return false
}

// TaskChanged reports background task progress of any payload type.
type TaskChanged struct {
	TaskID      string
	PayloadType string
	Phase       TaskPhase
	Error       string
}

// Operation is the kind of change an entity notification reports.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangedEntity is one entity of a create/update notification. GUIID is the
// transient draft ID the entity was created from, if any. Volume is set when
// the transport delivered the full entity.
type ChangedEntity struct {
	ID     string
	GUIID  string
	Volume *volumes.Volume
}

// VolumesChanged is a volumes.changed notification. Create and update carry
// Entities, delete carries IDs.
type VolumesChanged struct {
	Operation Operation
	Entities  []ChangedEntity
	IDs       []string
}

// DisksChanged is a disks.changed notification. Its content is not used; it
// only marks the available-disk cache stale.
type DisksChanged struct{}

func (e VolumesQueried) Visit(h Handler)        { h.OnVolumesQueried(e) }
func (e AvailableDisksQueried) Visit(h Handler) { h.OnAvailableDisksQueried(e) }
func (e CreateAcknowledged) Visit(h Handler)    { h.OnCreateAcknowledged(e) }
func (e DestroyAcknowledged) Visit(h Handler)   { h.OnDestroyAcknowledged(e) }
func (e TaskChanged) Visit(h Handler)           { h.OnTaskChanged(e) }
func (e VolumesChanged) Visit(h Handler)        { h.OnVolumesChanged(e) }
func (e DisksChanged) Visit(h Handler)          { h.OnDisksChanged(e) }

func (VolumesQueried) Name() string        { return "volumes_queried" }
func (AvailableDisksQueried) Name() string { return "available_disks_queried" }
func (CreateAcknowledged) Name() string    { return "create_acknowledged" }
func (DestroyAcknowledged) Name() string   { return "destroy_acknowledged" }
func (TaskChanged) Name() string           { return "task_changed" }
func (VolumesChanged) Name() string        { return "volumes_changed" }
func (DisksChanged) Name() string          { return "disks_changed" }

func (VolumesQueried) event()        {}
func (AvailableDisksQueried) event() {}
func (CreateAcknowledged) event()    {}
func (DestroyAcknowledged) event()   {}
func (TaskChanged) event()           {}
func (VolumesChanged) event()        {}
func (DisksChanged) event()          {}
