// Package ledger tracks in-flight remote requests by correlation ID and the
// volume tasks currently executing on the server.
//
// A Ledger is owned by a single goroutine; it does no locking.
package ledger

import (
	"errors"
	"fmt"
	"sort"
)

// Kind names the bucket a correlation ID was recorded in.
type Kind string

const (
	KindVolumesQuery        Kind = "volumes"
	KindAvailableDisksQuery Kind = "availableDisks"
	KindCreateTask          Kind = "create"
	KindDestroyTask         Kind = "destroy"
)

// VolumePayload is the only task payload type this ledger tracks.
const VolumePayload = "volume"

var (
	ErrUnknownCorrelation   = errors.New("correlation id not recorded")
	ErrDuplicateCorrelation = errors.New("correlation id already recorded")
	ErrUnknownKind          = errors.New("unknown ledger kind")
)

type set map[string]struct{}

type Ledger struct {
	volumesRequests        set
	availableDisksRequests set
	destroyRequests        set
	// correlation id -> draft volume id
	createRequests        map[string]string
	// task id -> create correlation id, once the server has queued the task
	createTasks           map[string]string
	activeTasks           set
	availableDisksInvalid bool
}

func New() *Ledger {
	return &Ledger{
		volumesRequests:        set{},
		availableDisksRequests: set{},
		destroyRequests:        set{},
		createRequests:         map[string]string{},
		createTasks:            map[string]string{},
		activeTasks:            set{},
	}
}

func (l *Ledger) bucket(k Kind) (set, error) {
	switch k {
	case KindVolumesQuery:
		return l.volumesRequests, nil
	case KindAvailableDisksQuery:
		return l.availableDisksRequests, nil
	case KindDestroyTask:
		return l.destroyRequests, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}

// Record adds id to a set bucket. Create tasks use RecordCreate.
func (l *Ledger) Record(k Kind, id string) error {
	b, err := l.bucket(k)
	if err != nil {
		return err
	}
	if _, ok := l.Kind(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelation, id)
	}
	b[id] = struct{}{}
	return nil
}

// Resolve removes id from a set bucket.
func (l *Ledger) Resolve(k Kind, id string) error {
	b, err := l.bucket(k)
	if err != nil {
		return err
	}
	if _, ok := b[id]; !ok {
		return fmt.Errorf("%w: %s in %s", ErrUnknownCorrelation, id, k)
	}
	delete(b, id)
	return nil
}

// RecordCreate maps a create-task correlation id to the draft that spawned it.
func (l *Ledger) RecordCreate(id, draftID string) error {
	if _, ok := l.Kind(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelation, id)
	}
	l.createRequests[id] = draftID
	return nil
}

// CreateTarget returns the draft id recorded for id without removing it.
func (l *Ledger) CreateTarget(id string) (string, bool) {
	d, ok := l.createRequests[id]
	return d, ok
}

// ResolveCreate removes id and returns the draft it was attributed to.
func (l *Ledger) ResolveCreate(id string) (string, error) {
	d, ok := l.createRequests[id]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrUnknownCorrelation, id, KindCreateTask)
	}
	delete(l.createRequests, id)
	l.unbind(id)
	return d, nil
}

// BindCreateTask attributes a server task to an outstanding create request.
func (l *Ledger) BindCreateTask(id, taskID string) error {
	if _, ok := l.createRequests[id]; !ok {
		return fmt.Errorf("%w: %s in %s", ErrUnknownCorrelation, id, KindCreateTask)
	}
	l.createTasks[taskID] = id
	return nil
}

// CreateForTask returns the create correlation id bound to taskID.
func (l *Ledger) CreateForTask(taskID string) (string, bool) {
	id, ok := l.createTasks[taskID]
	return id, ok
}

func (l *Ledger) unbind(id string) {
	for task, c := range l.createTasks {
		if c == id {
			delete(l.createTasks, task)
		}
	}
}

// ForgetCreatesFor drops every create entry attributed to draftID and
// returns how many were removed.
func (l *Ledger) ForgetCreatesFor(draftID string) int {
	n := 0
	for id, d := range l.createRequests {
		if d == draftID {
			delete(l.createRequests, id)
			l.unbind(id)
			n++
		}
	}
	return n
}

// Kind reports which bucket id is outstanding in.
func (l *Ledger) Kind(id string) (Kind, bool) {
	if _, ok := l.volumesRequests[id]; ok {
		return KindVolumesQuery, true
	}
	if _, ok := l.availableDisksRequests[id]; ok {
		return KindAvailableDisksQuery, true
	}
	if _, ok := l.createRequests[id]; ok {
		return KindCreateTask, true
	}
	if _, ok := l.destroyRequests[id]; ok {
		return KindDestroyTask, true
	}
	return "", false
}

// Pending reports whether any request of kind k is outstanding.
func (l *Ledger) Pending(k Kind) bool {
	if k == KindCreateTask {
		return len(l.createRequests) > 0
	}
	b, err := l.bucket(k)
	return err == nil && len(b) > 0
}

// TaskStarted marks a task active. It returns false, leaving the ledger
// untouched, for payload types other than VolumePayload.
func (l *Ledger) TaskStarted(taskID, payloadType string) bool {
	if payloadType != VolumePayload {
		return false
	}
	l.activeTasks[taskID] = struct{}{}
	return true
}

// TaskEnded clears an active task; same payload filtering as TaskStarted.
func (l *Ledger) TaskEnded(taskID, payloadType string) bool {
	if payloadType != VolumePayload {
		return false
	}
	delete(l.activeTasks, taskID)
	return true
}

func (l *Ledger) MarkDisksStale()  { l.availableDisksInvalid = true }
func (l *Ledger) ClearDisksStale() { l.availableDisksInvalid = false }
func (l *Ledger) DisksStale() bool { return l.availableDisksInvalid }

// Counts is the size of every bucket.
type Counts struct {
	VolumesRequests        int
	AvailableDisksRequests int
	CreateRequests         int
	DestroyRequests        int
	ActiveTasks            int
}

func (l *Ledger) Counts() Counts {
	return Counts{
		VolumesRequests:        len(l.volumesRequests),
		AvailableDisksRequests: len(l.availableDisksRequests),
		CreateRequests:         len(l.createRequests),
		DestroyRequests:        len(l.destroyRequests),
		ActiveTasks:            len(l.activeTasks),
	}
}

// View is an immutable copy of the ledger for observers.
type View struct {
	VolumesRequests        []string          `json:"volumesRequests"`
	AvailableDisksRequests []string          `json:"availableDisksRequests"`
	CreateRequests         map[string]string `json:"createRequests"`
	CreateTasks            map[string]string `json:"createTasks"`
	DestroyRequests        []string          `json:"destroyRequests"`
	ActiveTasks            []string          `json:"activeTasks"`
	AvailableDisksInvalid  bool              `json:"availableDisksInvalid"`
}

func (l *Ledger) View() View {
	creates := make(map[string]string, len(l.createRequests))
	for k, v := range l.createRequests {
		creates[k] = v
	}
	tasks := make(map[string]string, len(l.createTasks))
	for k, v := range l.createTasks {
		tasks[k] = v
	}
	return View{
		VolumesRequests:        l.volumesRequests.sorted(),
		AvailableDisksRequests: l.availableDisksRequests.sorted(),
		CreateRequests:         creates,
		CreateTasks:            tasks,
		DestroyRequests:        l.destroyRequests.sorted(),
		ActiveTasks:            l.activeTasks.sorted(),
		AvailableDisksInvalid:  l.availableDisksInvalid,
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
