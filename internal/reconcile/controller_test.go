package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nithronos/nosvol/internal/disks"
	"nithronos/nosvol/internal/ledger"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/volumes"
)

type call struct {
	Method string
	Args   any
	ID     string
}

type fakeTransport struct {
	calls []call
	err   error
}

func (f *fakeTransport) Request(_ context.Context, method string, args any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id := fmt.Sprintf("corr-%d", len(f.calls)+1)
	f.calls = append(f.calls, call{Method: method, Args: args, ID: id})
	return id, nil
}

func (f *fakeTransport) last() call { return f.calls[len(f.calls)-1] }

func testInventory() *disks.Inventory {
	list := []disks.Disk{
		{Path: "/dev/nvme0n1", MediaSize: 500, Class: disks.ClassSSD, Available: true},
		{Path: "/dev/nvme1n1", MediaSize: 500, Class: disks.ClassSSD, Available: true},
	}
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		list = append(list, disks.Disk{Path: "/dev/sd" + n, MediaSize: 1000, Class: disks.ClassHDD, Available: true})
	}
	return disks.NewInventory(list)
}

func newTestController(t *testing.T) (*Controller, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	c := New(Deps{Logger: zerolog.Nop(), Transport: tr, Catalog: testInventory()})
	return c, tr
}

func mirrorDraft(t *testing.T, c *Controller, id string) {
	t.Helper()
	require.NoError(t, c.Initialize(id, "tank"))
	require.NoError(t, c.AddVdevDisk(id, topology.PurposeData, 0, "/dev/sda"))
	require.NoError(t, c.AddVdevDisk(id, topology.PurposeData, 0, "/dev/sdb"))
}

func kinds(d []Diagnostic) []DiagnosticKind {
	out := []DiagnosticKind{}
	for _, x := range d {
		out = append(out, x.Kind)
	}
	return out
}

func TestInitializeMakesDraftActive(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Initialize("gui-1", "tank"))

	snap := c.Snapshot()
	require.Contains(t, snap.ClientVolumes, "gui-1")
	v := snap.ClientVolumes["gui-1"]
	assert.Equal(t, volumes.StateNewOnClient, v.State)
	assert.True(t, v.Topology.IsEmpty())
	assert.Equal(t, topology.PresetNone, v.Preset)
	assert.Equal(t, "gui-1", snap.ActiveVolumeID)

	assert.ErrorIs(t, c.Initialize("gui-1", "again"), ErrVolumeExists)
	assert.ErrorIs(t, c.Initialize("", "x"), ErrInvalidID)
}

func TestSubmitThenCreateAckMovesToCreating(t *testing.T) {
	c, tr := newTestController(t)
	mirrorDraft(t, c, "gui-1")

	corr, err := c.Submit(context.Background(), "gui-1")
	require.NoError(t, err)
	assert.Equal(t, MethodCreate, tr.last().Method)
	args := tr.last().Args.(CreateArgs)
	assert.Equal(t, "gui-1", args.GUIID)
	assert.Equal(t, "tank", args.Name)

	snap := c.Snapshot()
	assert.Equal(t, volumes.StateSubmitting, snap.ClientVolumes["gui-1"].State)
	assert.Equal(t, map[string]string{corr: "gui-1"}, snap.Ledger.CreateRequests)

	c.Apply(CreateAcknowledged{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}, TaskID: "42"})

	after := c.Snapshot()
	assert.Equal(t, volumes.StateCreating, after.ClientVolumes["gui-1"].State)
	assert.Equal(t, snap.ServerVolumes, after.ServerVolumes)
	assert.Empty(t, after.ServerVolumes)
	assert.Contains(t, after.Ledger.CreateRequests, corr, "entry stays until a terminal outcome")
	assert.Equal(t, map[string]string{"42": corr}, after.Ledger.CreateTasks)
	assert.Empty(t, c.Diagnostics())
}

func TestSubmitRejectsIncompleteOrDuplicate(t *testing.T) {
	c, tr := newTestController(t)
	require.NoError(t, c.Initialize("gui-1", "tank"))
	_, err := c.Submit(context.Background(), "gui-1")
	assert.ErrorIs(t, err, ErrNotSubmittable)
	assert.Empty(t, tr.calls)

	require.NoError(t, c.AddVdevDisk("gui-1", topology.PurposeData, 0, "/dev/sda"))
	_, err = c.Submit(context.Background(), "gui-1")
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), "gui-1")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSubmitTransportError(t *testing.T) {
	c, tr := newTestController(t)
	mirrorDraft(t, c, "gui-1")
	tr.err = errors.New("bridge closed")
	_, err := c.Submit(context.Background(), "gui-1")
	require.Error(t, err)
	assert.Equal(t, volumes.StateNewOnClient, c.Snapshot().ClientVolumes["gui-1"].State)
	assert.Equal(t, []DiagnosticKind{DiagRequestFailed}, kinds(c.Diagnostics()))
}

func TestCreateFailureLeavesEditableFailedDraft(t *testing.T) {
	for _, outcome := range []Outcome{OutcomeFailure, OutcomeTimeout} {
		t.Run(string(outcome), func(t *testing.T) {
			c, _ := newTestController(t)
			mirrorDraft(t, c, "gui-1")
			corr, err := c.Submit(context.Background(), "gui-1")
			require.NoError(t, err)

			c.Apply(CreateAcknowledged{Resolution: Resolution{Correlation: corr, Outcome: outcome, Error: "pool busy"}})

			snap := c.Snapshot()
			v := snap.ClientVolumes["gui-1"]
			assert.Equal(t, volumes.StateCreateFailed, v.State)
			assert.Equal(t, "pool busy", v.Error)
			assert.Empty(t, snap.Ledger.CreateRequests)

			name := "tank2"
			require.NoError(t, c.Update("gui-1", volumes.Patch{Name: &name}))
			v = c.Snapshot().ClientVolumes["gui-1"]
			assert.Equal(t, volumes.StateNewOnClient, v.State)
			assert.Empty(t, v.Error)

			_, err = c.Submit(context.Background(), "gui-1")
			assert.NoError(t, err)
		})
	}
}

func TestCreateAckAfterRevertIsIgnored(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "gui-1")
	corr, err := c.Submit(context.Background(), "gui-1")
	require.NoError(t, err)
	require.NoError(t, c.Revert("gui-1"))
	c.Diagnostics()

	c.Apply(CreateAcknowledged{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}})

	snap := c.Snapshot()
	assert.Empty(t, snap.ClientVolumes)
	assert.Empty(t, snap.Ledger.CreateRequests)
	assert.Equal(t, []DiagnosticKind{DiagStaleTarget}, kinds(c.Diagnostics()))
}

func TestCreateNotificationClaimsActiveDraft(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "X")
	corr, err := c.Submit(context.Background(), "X")
	require.NoError(t, err)
	c.Apply(CreateAcknowledged{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}})

	c.Apply(VolumesChanged{Operation: OpCreate, Entities: []ChangedEntity{{
		ID: "Y", GUIID: "X", Volume: &volumes.Volume{Name: "tank"},
	}}})

	snap := c.Snapshot()
	assert.Equal(t, "Y", snap.ActiveVolumeID)
	assert.NotContains(t, snap.ClientVolumes, "X")
	require.Contains(t, snap.ServerVolumes, "Y")
	assert.Equal(t, "X", snap.ServerVolumes["Y"].GUIID)
	assert.Empty(t, snap.Ledger.CreateRequests)
	assert.Empty(t, c.Diagnostics())
}

func TestCreateNotificationWithoutPayloadQueriesVolumes(t *testing.T) {
	c, tr := newTestController(t)
	mirrorDraft(t, c, "X")

	c.Apply(VolumesChanged{Operation: OpCreate, Entities: []ChangedEntity{{ID: "Y", GUIID: "X"}}})

	snap := c.Snapshot()
	assert.Equal(t, "Y", snap.ActiveVolumeID)
	assert.NotContains(t, snap.ClientVolumes, "X")
	require.Len(t, tr.calls, 1)
	assert.Equal(t, MethodQuery, tr.last().Method)

	c.Apply(VolumesQueried{
		Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess},
		Volumes:    []*volumes.Volume{{ID: "Y", Name: "tank", GUIID: "X"}},
	})
	assert.Equal(t, "Y", c.Snapshot().ActiveVolumeID)
	assert.Empty(t, c.Diagnostics())
}

func TestEmptyQueryClearsActive(t *testing.T) {
	c, _ := newTestController(t)
	corr, err := c.FetchVolumes(context.Background())
	require.NoError(t, err)

	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}, Volumes: []*volumes.Volume{}})

	snap := c.Snapshot()
	assert.Equal(t, "", snap.ActiveVolumeID)
	assert.Empty(t, snap.Ledger.VolumesRequests)
}

func TestQueryReplacesServerAndFallsBack(t *testing.T) {
	c, tr := newTestController(t)
	_, err := c.FetchVolumes(context.Background())
	require.NoError(t, err)
	c.Apply(VolumesQueried{
		Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess},
		Volumes:    []*volumes.Volume{{ID: "a"}, {ID: "b"}},
	})
	require.NoError(t, c.Focus("b"))

	_, err = c.FetchVolumes(context.Background())
	require.NoError(t, err)
	c.Apply(VolumesQueried{
		Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess},
		Volumes:    []*volumes.Volume{{ID: "c"}},
	})

	snap := c.Snapshot()
	assert.Equal(t, []string{"c"}, keys(snap.ServerVolumes))
	assert.Equal(t, "c", snap.ActiveVolumeID)
	assert.Equal(t, []DiagnosticKind{DiagActiveFallback}, kinds(c.Diagnostics()))
}

func keys(m map[string]*volumes.Volume) []string {
	out := []string{}
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestQueryWithoutPayloadIsNoop(t *testing.T) {
	c, _ := newTestController(t)
	corr, err := c.FetchVolumes(context.Background())
	require.NoError(t, err)
	before := c.Snapshot()

	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}})

	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, []DiagnosticKind{DiagNoPayload}, kinds(c.Diagnostics()))
}

func TestQueryFailureResolvesLedger(t *testing.T) {
	c, _ := newTestController(t)
	corr, err := c.FetchVolumes(context.Background())
	require.NoError(t, err)
	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: corr, Outcome: OutcomeTimeout}})
	assert.False(t, c.ledger.Pending(ledger.KindVolumesQuery))
	assert.Equal(t, []DiagnosticKind{DiagRequestFailed}, kinds(c.Diagnostics()))
}

func TestUnknownCorrelationIsIgnored(t *testing.T) {
	c, _ := newTestController(t)
	before := c.Snapshot()
	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: "nope", Outcome: OutcomeSuccess}, Volumes: []*volumes.Volume{{ID: "a"}}})
	c.Apply(DestroyAcknowledged{Resolution: Resolution{Correlation: "nope", Outcome: OutcomeSuccess}})
	c.Apply(CreateAcknowledged{Resolution: Resolution{Correlation: "nope", Outcome: OutcomeSuccess}})
	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, []DiagnosticKind{DiagUnknownCorrelation, DiagUnknownCorrelation, DiagUnknownCorrelation}, kinds(c.Diagnostics()))
}

func TestApplyPresetNoneResets(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Initialize("gui-1", "tank"))
	require.NoError(t, c.ApplyPreset("gui-1", "Virtualization", nil, nil))
	v := c.Snapshot().ClientVolumes["gui-1"]
	require.False(t, v.Topology.IsEmpty())
	require.NotZero(t, v.SelectedDisks.Len())

	require.NoError(t, c.ApplyPreset("gui-1", "none", nil, nil))

	v = c.Snapshot().ClientVolumes["gui-1"]
	assert.Equal(t, topology.CreateBlankTopology(), v.Topology)
	assert.Zero(t, v.SelectedDisks.Len())
	assert.Equal(t, topology.PresetNone, v.Preset)
}

func TestApplyPresetUsesAvailableDisks(t *testing.T) {
	c, tr := newTestController(t)
	_, err := c.FetchAvailableDisks(context.Background())
	require.NoError(t, err)
	c.Apply(AvailableDisksQueried{
		Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess},
		Disks:      []string{"/dev/sdc", "/dev/sdd", "/dev/sde", "/dev/sdf", "/dev/nvme1n1"},
	})
	require.NoError(t, c.Initialize("gui-1", "tank"))
	require.NoError(t, c.ApplyPreset("gui-1", "Virtualization", nil, nil))

	v := c.Snapshot().ClientVolumes["gui-1"]
	assert.Equal(t, "Virtualization", v.Preset)
	require.Len(t, v.Topology.Data, 2)
	assert.Equal(t, []string{"/dev/sdc", "/dev/sdd"}, topology.MemberDiskPaths(v.Topology.Data[0]))
	assert.Equal(t, []string{"/dev/sde", "/dev/sdf"}, topology.MemberDiskPaths(v.Topology.Data[1]))
	assert.Equal(t, []string{"/dev/nvme1n1"}, topology.MemberDiskPaths(v.Topology.Log[0]))
	assert.Empty(t, v.Topology.Cache, "one SSD cannot cover both log and cache")
	assert.Equal(t, volumes.NewDiskSet(topology.Members(v.Topology)...), v.SelectedDisks)
}

func TestApplyPresetRejections(t *testing.T) {
	c, tr := newTestController(t)
	_, err := c.FetchVolumes(context.Background())
	require.NoError(t, err)
	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess}, Volumes: []*volumes.Volume{{ID: "srv"}}})
	require.NoError(t, c.Initialize("gui-1", "tank"))
	c.Diagnostics()
	before := c.Snapshot()

	assert.ErrorIs(t, c.ApplyPreset("srv", "Optimal", nil, nil), ErrServerVolume)
	assert.ErrorIs(t, c.ApplyPreset("gui-1", "Bogus", nil, nil), topology.ErrUnknownPreset)
	assert.ErrorIs(t, c.ApplyPreset("missing", "Optimal", nil, nil), ErrDraftNotFound)

	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, []DiagnosticKind{DiagServerVolume, DiagUnknownPreset, DiagDraftNotFound}, kinds(c.Diagnostics()))
}

func TestRevertMissingDraftWarnsOnce(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Initialize("gui-1", "tank"))
	before := c.Snapshot()

	err := c.Revert("gui-404")

	assert.ErrorIs(t, err, ErrDraftNotFound)
	assert.Equal(t, before, c.Snapshot())
	d := c.Diagnostics()
	require.Len(t, d, 1)
	assert.Equal(t, DiagDraftNotFound, d[0].Kind)
	assert.Equal(t, "gui-404", d[0].Volume)
}

func TestUpdateMissingDraft(t *testing.T) {
	c, _ := newTestController(t)
	name := "x"
	assert.ErrorIs(t, c.Update("nope", volumes.Patch{Name: &name}), ErrDraftNotFound)
	assert.Len(t, c.Diagnostics(), 1)
}

func TestUpdateRejectsMalformedTopology(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Initialize("gui-1", "tank"))
	bad := topology.Topology{Data: []topology.Vdev{
		{Type: topology.Disk, Path: "/dev/sda"},
		{Type: topology.Disk, Path: "/dev/sda"},
	}}
	assert.ErrorIs(t, c.Update("gui-1", volumes.Patch{Topology: &bad}), topology.ErrDiskInUse)
	assert.True(t, c.Snapshot().ClientVolumes["gui-1"].Topology.IsEmpty())
}

func TestSelectDeselectDisk(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Initialize("gui-1", "tank"))
	require.NoError(t, c.SelectDisk("gui-1", "/dev/sdc"))
	require.NoError(t, c.SelectDisk("gui-1", "/dev/sdc"))
	assert.ErrorIs(t, c.SelectDisk("gui-1", "/dev/nope"), disks.ErrUnknownDisk)
	require.NoError(t, c.DeselectDisk("gui-1", "/dev/sdz"))
	assert.Equal(t, []string{"/dev/sdc"}, c.Snapshot().ClientVolumes["gui-1"].SelectedDisks.Sorted())
}

func TestDeselectDiskTakesItOutOfTopology(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "gui-1")
	require.NoError(t, c.DeselectDisk("gui-1", "/dev/sdb"))

	v := c.Snapshot().ClientVolumes["gui-1"]
	require.Len(t, v.Topology.Data, 1)
	assert.Equal(t, topology.Disk, v.Topology.Data[0].Type)
	assert.Equal(t, []string{"/dev/sda"}, v.SelectedDisks.Sorted())
	assert.NoError(t, topology.Validate(v.Topology, v.SelectedDisks.Sorted()))
}

func TestVdevEditsKeepSelectionInSync(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "gui-1")
	require.NoError(t, c.AddVdevDisk("gui-1", topology.PurposeData, 0, "/dev/sdc"))
	require.NoError(t, c.ChangeVdevType("gui-1", topology.PurposeData, 0, topology.RaidZ1))
	require.NoError(t, c.AddVdevDisk("gui-1", topology.PurposeLog, 0, "/dev/nvme0n1"))
	assert.ErrorIs(t, c.AddVdevDisk("gui-1", topology.PurposeLog, 1, "/dev/nvme1n1"), topology.ErrGroupFull)
	assert.ErrorIs(t, c.ChangeVdevType("gui-1", topology.PurposeData, 0, topology.RaidZ2), topology.ErrIllegalVdevType)

	v := c.Snapshot().ClientVolumes["gui-1"]
	assert.Equal(t, topology.RaidZ1, v.Topology.Data[0].Type)
	assert.Equal(t, []string{"/dev/nvme0n1", "/dev/sda", "/dev/sdb", "/dev/sdc"}, v.SelectedDisks.Sorted())

	require.NoError(t, c.NukeVdev("gui-1", topology.PurposeLog, 0))
	require.NoError(t, c.RemoveVdevDisk("gui-1", topology.PurposeData, 0, "/dev/sdc"))
	v = c.Snapshot().ClientVolumes["gui-1"]
	assert.Empty(t, v.Topology.Log)
	assert.Equal(t, []string{"/dev/sda", "/dev/sdb"}, v.SelectedDisks.Sorted())
	assert.Equal(t, []DiagnosticKind{DiagInvalidEdit, DiagInvalidEdit}, kinds(c.Diagnostics()))
}

func TestRevertTopology(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "gui-1")
	require.NoError(t, c.RevertTopology("gui-1"))
	v := c.Snapshot().ClientVolumes["gui-1"]
	assert.True(t, v.Topology.IsEmpty())
	assert.Zero(t, v.SelectedDisks.Len())
}

func TestFocusBlur(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Initialize("a", "a"))
	require.NoError(t, c.Initialize("b", "b"))
	require.NoError(t, c.Focus("a"))
	assert.ErrorIs(t, c.Blur("b"), ErrNotActive)
	assert.Equal(t, "a", c.Snapshot().ActiveVolumeID)
	require.NoError(t, c.Blur("a"))
	assert.Equal(t, "", c.Snapshot().ActiveVolumeID)
	assert.ErrorIs(t, c.Focus("zz"), ErrVolumeNotFound)
}

func TestDestroyFlow(t *testing.T) {
	c, tr := newTestController(t)
	_, err := c.FetchVolumes(context.Background())
	require.NoError(t, err)
	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess}, Volumes: []*volumes.Volume{{ID: "srv"}}})

	_, err = c.ConfirmDestroy(context.Background())
	assert.ErrorIs(t, err, ErrNoDestroyTarget)
	require.NoError(t, c.IntendDestroy("srv"))
	corr, err := c.ConfirmDestroy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DestroyArgs{ID: "srv"}, tr.last().Args)

	c.Apply(DestroyAcknowledged{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}})
	snap := c.Snapshot()
	assert.Equal(t, "", snap.VolumeToDestroy)
	assert.Contains(t, snap.ServerVolumes, "srv", "removal waits for the notification")

	c.Apply(VolumesChanged{Operation: OpDelete, IDs: []string{"srv"}})
	snap = c.Snapshot()
	assert.Empty(t, snap.ServerVolumes)
	assert.Equal(t, "", snap.ActiveVolumeID)
}

func TestDeleteNotificationDropsLingeringDraft(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Initialize("vol-1", "tank"))
	c.Apply(VolumesChanged{Operation: OpDelete, IDs: []string{"vol-1"}})
	snap := c.Snapshot()
	assert.Empty(t, snap.ClientVolumes)
	assert.Equal(t, "", snap.ActiveVolumeID)
}

func TestTaskEventsFilteredToVolumePayload(t *testing.T) {
	c, _ := newTestController(t)
	c.Apply(TaskChanged{TaskID: "t1", PayloadType: "share", Phase: TaskCreated})
	c.Apply(TaskChanged{TaskID: "t2", PayloadType: "volume", Phase: TaskCreated})
	c.Apply(TaskChanged{TaskID: "t2", PayloadType: "volume", Phase: TaskProgress})
	assert.Equal(t, []string{"t2"}, c.Snapshot().Ledger.ActiveTasks)

	c.Apply(TaskChanged{TaskID: "t1", PayloadType: "share", Phase: TaskFinished})
	c.Apply(TaskChanged{TaskID: "t2", PayloadType: "volume", Phase: TaskFinished})
	assert.Empty(t, c.Snapshot().Ledger.ActiveTasks)
	assert.Empty(t, c.Diagnostics())
}

func TestCreateTaskFailureFailsDraft(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "gui-1")
	corr, err := c.Submit(context.Background(), "gui-1")
	require.NoError(t, err)
	c.Apply(CreateAcknowledged{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}, TaskID: "77"})
	c.Apply(TaskChanged{TaskID: "77", PayloadType: "volume", Phase: TaskCreated})

	c.Apply(TaskChanged{TaskID: "77", PayloadType: "volume", Phase: TaskFailed, Error: "zpool create failed"})

	snap := c.Snapshot()
	v := snap.ClientVolumes["gui-1"]
	assert.Equal(t, volumes.StateCreateFailed, v.State)
	assert.Equal(t, "zpool create failed", v.Error)
	assert.Empty(t, snap.Ledger.CreateRequests)
	assert.Empty(t, snap.Ledger.ActiveTasks)
}

func TestDisksChangedMarksStale(t *testing.T) {
	c, tr := newTestController(t)
	assert.True(t, c.DisksNeedRefresh(), "never fetched")

	_, err := c.FetchAvailableDisks(context.Background())
	require.NoError(t, err)
	assert.False(t, c.DisksNeedRefresh(), "query in flight")
	c.Apply(AvailableDisksQueried{Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess}, Disks: []string{"/dev/sda"}})
	assert.False(t, c.DisksNeedRefresh())

	c.Apply(DisksChanged{})
	snap := c.Snapshot()
	assert.True(t, snap.Ledger.AvailableDisksInvalid)
	assert.Equal(t, []string{"/dev/sda"}, snap.AvailableDisks, "stale cache is kept until refetched")
	assert.True(t, c.DisksNeedRefresh())

	_, err = c.FetchAvailableDisks(context.Background())
	require.NoError(t, err)
	c.Apply(AvailableDisksQueried{Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess}, Disks: []string{"/dev/sdb"}})
	snap = c.Snapshot()
	assert.False(t, snap.Ledger.AvailableDisksInvalid)
	assert.Equal(t, []string{"/dev/sdb"}, snap.AvailableDisks)
}

func TestBreakdownAndAllowedTypes(t *testing.T) {
	c, tr := newTestController(t)
	mirrorDraft(t, c, "gui-1")
	b, err := c.Breakdown("gui-1")
	require.NoError(t, err)
	assert.Equal(t, topology.Breakdown{Avail: 1000, Parity: 1000}, b)
	_, err = c.Breakdown("nope")
	assert.ErrorIs(t, err, ErrVolumeNotFound)

	_, err = c.FetchVolumes(context.Background())
	require.NoError(t, err)
	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess}, Volumes: []*volumes.Volume{{
		ID: "srv",
		Topology: topology.Topology{Data: []topology.Vdev{{Type: topology.Mirror, Children: []topology.Vdev{
			{Type: topology.Disk, Path: "/dev/sdg"}, {Type: topology.Disk, Path: "/dev/sdh"},
		}}}},
	}}})
	members := []string{"/dev/sdg", "/dev/sdh", "/dev/sda"}
	assert.Equal(t, []topology.VdevType{topology.Mirror}, c.AllowedTypes("srv", topology.PurposeData, 0, members))
	assert.Equal(t, topology.AllowedVdevTypes(members, topology.PurposeData), c.AllowedTypes("srv", topology.PurposeData, 1, members))
}

type memSaver struct {
	saves int
	last  map[string]*volumes.Volume
}

func (m *memSaver) Save(d map[string]*volumes.Volume) error {
	m.saves++
	m.last = d
	return nil
}

func TestCommitPersistsChangedDrafts(t *testing.T) {
	saver := &memSaver{}
	c := New(Deps{Logger: zerolog.Nop(), Transport: &fakeTransport{}, Catalog: testInventory(), Drafts: saver})

	require.NoError(t, c.Initialize("gui-1", "tank"))
	c.commit("initialize")
	assert.Equal(t, 1, saver.saves)
	assert.Contains(t, saver.last, "gui-1")

	require.NoError(t, c.Focus("gui-1"))
	c.commit("focus")
	assert.Equal(t, 1, saver.saves, "focus does not touch drafts")
	assert.Equal(t, uint64(2), c.Snapshot().Version)
}

func TestRestartDuringCreateLeavesDraftResubmittable(t *testing.T) {
	ds := volumes.NewDraftStore(filepath.Join(t.TempDir(), "drafts.json"))
	before := New(Deps{Logger: zerolog.Nop(), Transport: &fakeTransport{}, Catalog: testInventory(), Drafts: ds})
	mirrorDraft(t, before, "X")
	corr, err := before.Submit(context.Background(), "X")
	require.NoError(t, err)
	before.Apply(CreateAcknowledged{Resolution: Resolution{Correlation: corr, Outcome: OutcomeSuccess}, TaskID: "7"})
	before.commit("create acknowledged")
	require.Equal(t, volumes.StateCreating, before.Snapshot().ClientVolumes["X"].State)

	restored, err := ds.Load()
	require.NoError(t, err)
	store := volumes.NewStore()
	store.LoadDrafts(restored)
	tr := &fakeTransport{}
	c := New(Deps{Logger: zerolog.Nop(), Transport: tr, Catalog: testInventory(), Store: store})

	v := c.Snapshot().ClientVolumes["X"]
	require.NotNil(t, v)
	assert.Equal(t, volumes.StateCreateFailed, v.State)
	assert.Equal(t, volumes.InterruptedError, v.Error)

	name := "tank2"
	require.NoError(t, c.Update("X", volumes.Patch{Name: &name}))
	v = c.Snapshot().ClientVolumes["X"]
	assert.Equal(t, volumes.StateNewOnClient, v.State)
	assert.Empty(t, v.Error)

	corr, err = c.Submit(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, MethodCreate, tr.last().Method)
	assert.Equal(t, map[string]string{corr: "X"}, c.Snapshot().Ledger.CreateRequests)
}

func TestStartupQueryClaimsInterruptedCreate(t *testing.T) {
	store := volumes.NewStore()
	d := volumes.NewDraft("X", "tank")
	d.State = volumes.StateCreateFailed
	d.Error = volumes.InterruptedError
	store.LoadDrafts(map[string]*volumes.Volume{"X": d})
	store.SetActive("X")
	tr := &fakeTransport{}
	c := New(Deps{Logger: zerolog.Nop(), Transport: tr, Catalog: testInventory(), Store: store})

	_, err := c.FetchVolumes(context.Background())
	require.NoError(t, err)
	c.Apply(VolumesQueried{
		Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeSuccess},
		Volumes:    []*volumes.Volume{{ID: "Y", Name: "tank", GUIID: "X"}},
	})

	snap := c.Snapshot()
	assert.NotContains(t, snap.ClientVolumes, "X")
	assert.Contains(t, snap.ServerVolumes, "Y")
	assert.Equal(t, "Y", snap.ActiveVolumeID)
	assert.Empty(t, c.Diagnostics())
}

func TestPayloadlessClaimSurvivesUnrelatedChanges(t *testing.T) {
	c, tr := newTestController(t)
	mirrorDraft(t, c, "X")
	require.NoError(t, c.Initialize("Z", "scratch"))
	require.NoError(t, c.Focus("X"))

	c.Apply(VolumesChanged{Operation: OpCreate, Entities: []ChangedEntity{{ID: "Y", GUIID: "X"}}})
	require.Equal(t, "Y", c.Snapshot().ActiveVolumeID)
	require.Len(t, tr.calls, 1)
	query := tr.last().ID

	require.NoError(t, c.Revert("Z"))
	c.Apply(VolumesChanged{Operation: OpDelete, IDs: []string{"unrelated"}})
	snap := c.Snapshot()
	assert.Equal(t, "Y", snap.ActiveVolumeID)
	assert.Equal(t, "Y", snap.PendingClaim)
	assert.Len(t, tr.calls, 1, "one follow-up query")
	assert.Empty(t, c.Diagnostics())

	c.Apply(VolumesQueried{
		Resolution: Resolution{Correlation: query, Outcome: OutcomeSuccess},
		Volumes:    []*volumes.Volume{{ID: "Y", Name: "tank", GUIID: "X"}},
	})
	snap = c.Snapshot()
	assert.Equal(t, "Y", snap.ActiveVolumeID)
	assert.Empty(t, snap.PendingClaim)
	assert.Empty(t, c.Diagnostics())
}

func TestPayloadlessClaimFallsBackWhenQueryFails(t *testing.T) {
	c, tr := newTestController(t)
	mirrorDraft(t, c, "X")
	require.NoError(t, c.Initialize("Z", "scratch"))
	require.NoError(t, c.Focus("X"))

	c.Apply(VolumesChanged{Operation: OpCreate, Entities: []ChangedEntity{{ID: "Y", GUIID: "X"}}})
	c.Apply(VolumesQueried{Resolution: Resolution{Correlation: tr.last().ID, Outcome: OutcomeFailure, Error: "boom"}})

	snap := c.Snapshot()
	assert.Equal(t, "Z", snap.ActiveVolumeID)
	assert.Empty(t, snap.PendingClaim)
	assert.Equal(t, []DiagnosticKind{DiagRequestFailed, DiagActiveFallback}, kinds(c.Diagnostics()))
}

func TestPayloadlessClaimDeletedBeforeQuery(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "X")

	c.Apply(VolumesChanged{Operation: OpCreate, Entities: []ChangedEntity{{ID: "Y", GUIID: "X"}}})
	c.Apply(VolumesChanged{Operation: OpDelete, IDs: []string{"Y"}})

	snap := c.Snapshot()
	assert.Equal(t, "", snap.ActiveVolumeID)
	assert.Empty(t, snap.PendingClaim)
	assert.Equal(t, []DiagnosticKind{DiagActiveFallback}, kinds(c.Diagnostics()))
}

func TestLogAndCacheRequireSSDs(t *testing.T) {
	c, _ := newTestController(t)
	mirrorDraft(t, c, "gui-1")

	assert.ErrorIs(t, c.AddVdevDisk("gui-1", topology.PurposeLog, 0, "/dev/sdc"), topology.ErrRequiresSSD)
	assert.ErrorIs(t, c.AddVdevDisk("gui-1", topology.PurposeCache, 0, "/dev/sdd"), topology.ErrRequiresSSD)
	require.NoError(t, c.AddVdevDisk("gui-1", topology.PurposeCache, 0, "/dev/nvme0n1"))
	require.NoError(t, c.AddVdevDisk("gui-1", topology.PurposeSpare, 0, "/dev/sde"))

	hddLog := topology.Topology{
		Data: []topology.Vdev{{Type: topology.Mirror, Children: []topology.Vdev{
			{Type: topology.Disk, Path: "/dev/sda"}, {Type: topology.Disk, Path: "/dev/sdb"},
		}}},
		Log: []topology.Vdev{{Type: topology.Disk, Path: "/dev/sdf"}},
	}
	assert.ErrorIs(t, c.Update("gui-1", volumes.Patch{Topology: &hddLog}), topology.ErrRequiresSSD)

	v := c.Snapshot().ClientVolumes["gui-1"]
	assert.Empty(t, v.Topology.Log)
	assert.Equal(t, []string{"/dev/nvme0n1", "/dev/sda", "/dev/sdb", "/dev/sde"}, v.SelectedDisks.Sorted())
	assert.Equal(t, []DiagnosticKind{DiagInvalidEdit, DiagInvalidEdit, DiagInvalidEdit}, kinds(c.Diagnostics()))
}
