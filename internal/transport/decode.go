package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/volumes"
)

func decodeResolution(method string, r Resolution) (reconcile.Event, error) {
	base := reconcile.Resolution{Correlation: r.ID, Outcome: r.Outcome, Error: r.Error}
	ok := r.Outcome == reconcile.OutcomeSuccess
	switch method {
	case reconcile.MethodQuery:
		ev := reconcile.VolumesQueried{Resolution: base}
		if ok && present(r.Data) {
			list := []*volumes.Volume{}
			if err := json.Unmarshal(r.Data, &list); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadResult, method, err)
			}
			ev.Volumes = list
		}
		return ev, nil
	case reconcile.MethodAvailableDisks:
		ev := reconcile.AvailableDisksQueried{Resolution: base}
		if ok && present(r.Data) {
			list := []string{}
			if err := json.Unmarshal(r.Data, &list); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadResult, method, err)
			}
			ev.Disks = list
		}
		return ev, nil
	case reconcile.MethodCreate:
		ev := reconcile.CreateAcknowledged{Resolution: base}
		if ok && present(r.Data) {
			id, err := taskID(r.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadResult, method, err)
			}
			ev.TaskID = id
		}
		return ev, nil
	case reconcile.MethodDestroy:
		return reconcile.DestroyAcknowledged{Resolution: base}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}

// taskID accepts a bare string or number, or an object with an id field.
func taskID(raw json.RawMessage) (string, error) {
	var obj struct {
		ID   json.RawMessage `json:"id"`
		Task json.RawMessage `json:"taskId"`
	}
	t := bytes.TrimSpace(raw)
	if len(t) > 0 && t[0] == '{' {
		if err := json.Unmarshal(t, &obj); err != nil {
			return "", err
		}
		if present(obj.Task) {
			return scalar(obj.Task)
		}
		return scalar(obj.ID)
	}
	return scalar(t)
}

func scalar(raw json.RawMessage) (string, error) {
	if !present(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

// Notification is an entity-change or task event posted by the bridge.
type Notification struct {
	Mask string          `json:"mask"`
	Data json.RawMessage `json:"data"`
}

const (
	MaskVolumesChanged = "entity-subscriber.volumes.changed"
	MaskDisksChanged   = "entity-subscriber.disks.changed"
	taskMaskPrefix     = "task."
)

type changeData struct {
	Operation reconcile.Operation `json:"operation"`
	Entities  []json.RawMessage   `json:"entities"`
	IDs       []json.RawMessage   `json:"ids"`
}

type taskData struct {
	ID          json.RawMessage `json:"id"`
	PayloadType string          `json:"payloadType"`
	Error       string          `json:"error"`
}

// Decode turns a notification into the matching controller event. The
// entity-subscriber prefix of masks is optional.
func Decode(n Notification) (reconcile.Event, error) {
	mask := strings.TrimPrefix(n.Mask, "entity-subscriber.")
	switch {
	case mask == "volumes.changed":
		return decodeVolumesChanged(n.Data)
	case mask == "disks.changed":
		return reconcile.DisksChanged{}, nil
	case strings.HasPrefix(mask, taskMaskPrefix):
		return decodeTask(reconcile.TaskPhase(strings.TrimPrefix(mask, taskMaskPrefix)), n.Data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMask, n.Mask)
}

func decodeVolumesChanged(raw json.RawMessage) (reconcile.Event, error) {
	var d changeData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode volumes.changed: %w", err)
	}
	if !d.Operation.Valid() {
		return nil, fmt.Errorf("decode volumes.changed: unknown operation %q", d.Operation)
	}
	ev := reconcile.VolumesChanged{Operation: d.Operation}
	for _, raw := range d.IDs {
		id, err := scalar(raw)
		if err != nil {
			return nil, fmt.Errorf("decode volumes.changed id: %w", err)
		}
		ev.IDs = append(ev.IDs, id)
	}
	for _, raw := range d.Entities {
		ent, err := decodeEntity(raw)
		if err != nil {
			return nil, err
		}
		ev.Entities = append(ev.Entities, ent)
	}
	return ev, nil
}

// decodeEntity keeps the full volume only when the entity carries more than
// its identifiers.
func decodeEntity(raw json.RawMessage) (reconcile.ChangedEntity, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return reconcile.ChangedEntity{}, fmt.Errorf("decode volumes.changed entity: %w", err)
	}
	id, err := scalar(fields["id"])
	if err != nil {
		return reconcile.ChangedEntity{}, fmt.Errorf("decode volumes.changed entity id: %w", err)
	}
	guiID, _ := scalar(fields["guiId"])
	ent := reconcile.ChangedEntity{ID: id, GUIID: guiID}
	delete(fields, "id")
	delete(fields, "guiId")
	if len(fields) == 0 {
		return ent, nil
	}
	v := &volumes.Volume{}
	if err := json.Unmarshal(raw, v); err != nil {
		return reconcile.ChangedEntity{}, fmt.Errorf("decode volumes.changed entity %s: %w", id, err)
	}
	v.ID = id
	ent.Volume = v
	return ent, nil
}

func decodeTask(phase reconcile.TaskPhase, raw json.RawMessage) (reconcile.Event, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("%w: task.%s", ErrUnknownMask, phase)
	}
	var d taskData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode task.%s: %w", phase, err)
	}
	id, err := scalar(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode task.%s id: %w", phase, err)
	}
	return reconcile.TaskChanged{TaskID: id, PayloadType: d.PayloadType, Phase: phase, Error: d.Error}, nil
}
