package reconcile

import (
	"context"
	"fmt"

	"nithronos/nosvol/internal/ledger"
	"nithronos/nosvol/internal/volumes"
)

// Apply routes ev to its handler.
func (c *Controller) Apply(ev Event) { ev.Visit(c) }

var _ Handler = (*Controller)(nil)

// outstanding reports whether corr is recorded under k, warning otherwise.
func (c *Controller) outstanding(k ledger.Kind, corr string) bool {
	got, ok := c.ledger.Kind(corr)
	if ok && got == k {
		return true
	}
	c.warn(DiagUnknownCorrelation, "", corr, fmt.Sprintf("unexpected %s resolution", k))
	return false
}

func failureMessage(r Resolution) string {
	if r.Error != "" {
		return r.Error
	}
	return string(r.Outcome)
}

// OnVolumesQueried replaces the server map wholesale. Drafts claimed by a
// returned volume are dropped as a notification would.
func (c *Controller) OnVolumesQueried(e VolumesQueried) {
	if !c.outstanding(ledger.KindVolumesQuery, e.Correlation) {
		return
	}
	if e.failed() {
		_ = c.ledger.Resolve(ledger.KindVolumesQuery, e.Correlation)
		c.warn(DiagRequestFailed, "", e.Correlation, fmt.Sprintf("%s: %s", MethodQuery, failureMessage(e.Resolution)))
		if c.store.PendingClaim() != "" {
			c.store.SetPendingClaim("")
			c.reconcileActive()
		}
		return
	}
	if e.Volumes == nil {
		c.warn(DiagNoPayload, "", e.Correlation, fmt.Sprintf("%s: %v", MethodQuery, ErrNoPayload))
		return
	}
	_ = c.ledger.Resolve(ledger.KindVolumesQuery, e.Correlation)
	c.store.ReplaceServer(e.Volumes)
	for draftID, id := range c.store.ClaimedDrafts() {
		c.claim(draftID, id)
	}
	c.reconcileActive()
}

func (c *Controller) OnAvailableDisksQueried(e AvailableDisksQueried) {
	if !c.outstanding(ledger.KindAvailableDisksQuery, e.Correlation) {
		return
	}
	if e.failed() {
		_ = c.ledger.Resolve(ledger.KindAvailableDisksQuery, e.Correlation)
		c.warn(DiagRequestFailed, "", e.Correlation, fmt.Sprintf("%s: %s", MethodAvailableDisks, failureMessage(e.Resolution)))
		return
	}
	if e.Disks == nil {
		c.warn(DiagNoPayload, "", e.Correlation, fmt.Sprintf("%s: %v", MethodAvailableDisks, ErrNoPayload))
		return
	}
	_ = c.ledger.Resolve(ledger.KindAvailableDisksQuery, e.Correlation)
	c.store.SetAvailableDisks(volumes.NewDiskSet(e.Disks...))
	c.ledger.ClearDisksStale()
}

// OnCreateAcknowledged advances the draft to CREATING on success. The ledger
// entry is kept until the create task ends or the draft is claimed. Failure
// and timeout leave the draft in CREATE_FAILED with the error attached.
func (c *Controller) OnCreateAcknowledged(e CreateAcknowledged) {
	draftID, ok := c.ledger.CreateTarget(e.Correlation)
	if !ok {
		c.warn(DiagUnknownCorrelation, "", e.Correlation, "unexpected create resolution")
		return
	}
	v, exists := c.store.Client(draftID)
	if e.failed() {
		_, _ = c.ledger.ResolveCreate(e.Correlation)
		if !exists {
			c.warn(DiagStaleTarget, draftID, e.Correlation, "create failed for a draft that no longer exists")
			return
		}
		c.failDraft(v, e.Correlation, failureMessage(e.Resolution))
		return
	}
	if !exists {
		_, _ = c.ledger.ResolveCreate(e.Correlation)
		c.warn(DiagStaleTarget, draftID, e.Correlation, "create acknowledged for a draft that no longer exists")
		return
	}
	if v.State != volumes.StateSubmitting {
		c.warn(DiagStaleTarget, draftID, e.Correlation, fmt.Sprintf("create acknowledged for draft in state %q", v.State))
		return
	}
	if e.TaskID != "" {
		_ = c.ledger.BindCreateTask(e.Correlation, e.TaskID)
	}
	v.State = volumes.StateCreating
	c.dirty = true
	c.logger.Info().Str("volume", draftID).Str("correlation", e.Correlation).Str("task", e.TaskID).Msg("create queued")
}

func (c *Controller) failDraft(v *volumes.Volume, corr, msg string) {
	v.State = volumes.StateCreateFailed
	v.Error = msg
	c.dirty = true
	c.warn(DiagRequestFailed, v.ID, corr, fmt.Sprintf("%s: %s", MethodCreate, msg))
}

// OnDestroyAcknowledged clears the destroy marker. The volume itself goes
// away with the next notification or query.
func (c *Controller) OnDestroyAcknowledged(e DestroyAcknowledged) {
	if !c.outstanding(ledger.KindDestroyTask, e.Correlation) {
		return
	}
	_ = c.ledger.Resolve(ledger.KindDestroyTask, e.Correlation)
	if e.failed() {
		c.warn(DiagRequestFailed, c.store.VolumeToDestroy(), e.Correlation,
			fmt.Sprintf("%s: %s", MethodDestroy, failureMessage(e.Resolution)))
	}
	c.store.SetVolumeToDestroy("")
}

// OnTaskChanged tracks volume tasks. Tasks of other payload types belong to
// other ledgers and are dropped here.
func (c *Controller) OnTaskChanged(e TaskChanged) {
	if e.PayloadType != ledger.VolumePayload {
		c.logger.Debug().Str("task", e.TaskID).Str("payload", e.PayloadType).Msg("task ignored")
		return
	}
	if e.TaskID == "" || !e.Phase.Valid() {
		c.warn(DiagIgnoredEvent, "", "", fmt.Sprintf("malformed task event %q phase %q", e.TaskID, e.Phase))
		return
	}
	if !e.Phase.Terminal() {
		c.ledger.TaskStarted(e.TaskID, e.PayloadType)
		return
	}
	c.ledger.TaskEnded(e.TaskID, e.PayloadType)

	corr, ok := c.ledger.CreateForTask(e.TaskID)
	if !ok {
		return
	}
	draftID, _ := c.ledger.ResolveCreate(corr)
	if e.Phase != TaskFailed {
		return
	}
	v, exists := c.store.Client(draftID)
	if !exists {
		c.warn(DiagStaleTarget, draftID, corr, "create task failed for a draft that no longer exists")
		return
	}
	msg := e.Error
	if msg == "" {
		msg = "create task failed"
	}
	c.failDraft(v, corr, msg)
}

// OnVolumesChanged merges a notification into the store. Entities that name
// a draft through GUIID claim it: the draft is removed and the active
// volume follows it to the permanent id. Entities without a payload are
// fetched with a follow-up query; until it resolves the active id is held as
// a pending claim and survives active reconciliation.
func (c *Controller) OnVolumesChanged(e VolumesChanged) {
	missing := false
	switch e.Operation {
	case OpCreate, OpUpdate:
		for _, ent := range e.Entities {
			if ent.ID == "" {
				c.warn(DiagIgnoredEvent, ent.GUIID, "", fmt.Sprintf("%s notification entity without id", e.Operation))
				continue
			}
			if ent.Volume != nil {
				v := ent.Volume.Clone()
				v.ID = ent.ID
				if v.GUIID == "" {
					v.GUIID = ent.GUIID
				}
				c.store.UpsertServer(v)
			} else if _, ok := c.store.Server(ent.ID); !ok {
				missing = true
			}
			if ent.GUIID != "" {
				c.claim(ent.GUIID, ent.ID)
			}
		}
	case OpDelete:
		for _, id := range e.IDs {
			if c.store.DeleteClient(id) {
				c.dirty = true
			}
			c.store.DeleteServer(id)
			if c.store.VolumeToDestroy() == id {
				c.store.SetVolumeToDestroy("")
			}
		}
	default:
		c.warn(DiagIgnoredEvent, "", "", fmt.Sprintf("unknown volumes operation %q", e.Operation))
		return
	}
	if missing && !c.ledger.Pending(ledger.KindVolumesQuery) {
		if _, err := c.FetchVolumes(context.Background()); err != nil {
			c.store.SetPendingClaim("")
		}
	}
	c.reconcileActive()
}

// claim drops the draft a server volume was created from.
func (c *Controller) claim(draftID, id string) {
	if !c.store.DeleteClient(draftID) {
		return
	}
	c.ledger.ForgetCreatesFor(draftID)
	if c.store.Active() == draftID {
		c.store.SetActive(id)
		if _, ok := c.store.Server(id); !ok {
			c.store.SetPendingClaim(id)
		}
	}
	c.dirty = true
	c.logger.Info().Str("draft", draftID).Str("volume", id).Msg("draft claimed by server")
}

func (c *Controller) OnDisksChanged(DisksChanged) { c.ledger.MarkDisksStale() }
