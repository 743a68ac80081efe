// Package reconcile is the volume lifecycle state machine. It applies local
// intents and inbound resolution events to the volume store and the request
// ledger.
//
// A Controller is not safe for concurrent use. Loop runs one on a single
// goroutine and is the only way other goroutines should reach it.
package reconcile

import (
	"fmt"

	"github.com/rs/zerolog"

	"nithronos/nosvol/internal/disks"
	"nithronos/nosvol/internal/ledger"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/volumes"
)

// DiskCatalog is the read-only disk inventory the controller allocates from.
type DiskCatalog interface {
	disks.Catalog
	ByClass(c disks.Class, available func(path string) bool) []string
}

// DraftSaver persists client drafts after a transition changed them.
type DraftSaver interface {
	Save(drafts map[string]*volumes.Volume) error
}

type Deps struct {
	Logger    zerolog.Logger
	Transport Transport
	Catalog   DiskCatalog
	Presets   *topology.Registry
	Store     *volumes.Store
	Ledger    *ledger.Ledger
	Recorder  Recorder
	Drafts    DraftSaver
}

type Controller struct {
	logger    zerolog.Logger
	transport Transport
	catalog   DiskCatalog
	presets   *topology.Registry
	store     *volumes.Store
	ledger    *ledger.Ledger
	recorder  Recorder
	drafts    DraftSaver

	diags   []Diagnostic
	dirty   bool
	version uint64
}

func New(d Deps) *Controller {
	c := &Controller{
		logger:    d.Logger.With().Str("component", "reconcile").Logger(),
		transport: d.Transport,
		catalog:   d.Catalog,
		presets:   d.Presets,
		store:     d.Store,
		ledger:    d.Ledger,
		recorder:  d.Recorder,
		drafts:    d.Drafts,
	}
	if c.catalog == nil {
		c.catalog = disks.NewInventory(nil)
	}
	if c.presets == nil {
		c.presets = topology.DefaultRegistry()
	}
	if c.store == nil {
		c.store = volumes.NewStore()
	}
	if c.ledger == nil {
		c.ledger = ledger.New()
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// SetCatalog swaps the disk inventory, e.g. after a rescan.
func (c *Controller) SetCatalog(cat DiskCatalog) { c.catalog = cat }

func (c *Controller) Catalog() DiskCatalog { return c.catalog }

// Snapshot is a detached copy of the store and ledger.
type Snapshot struct {
	Version uint64 `json:"version"`
	volumes.View
	Ledger ledger.View `json:"ledger"`
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{Version: c.version, View: c.store.View(), Ledger: c.ledger.View()}
}

// Diagnostics returns and clears the diagnostics collected since the last call.
func (c *Controller) Diagnostics() []Diagnostic {
	d := c.diags
	c.diags = nil
	return d
}

// commit finishes a transition: it persists drafts if they changed and bumps
// the snapshot version.
func (c *Controller) commit(name string) {
	if c.dirty && c.drafts != nil {
		if err := c.drafts.Save(c.store.Drafts()); err != nil {
			c.warn(DiagPersistFailed, "", "", fmt.Sprintf("save drafts: %v", err))
		}
	}
	c.dirty = false
	c.version++
	c.recorder.Transition(name)
	c.recorder.Ledger(c.ledger.Counts())
}

func (c *Controller) warn(kind DiagnosticKind, volume, correlation, msg string) {
	ev := c.logger.Warn().Str("kind", string(kind))
	if volume != "" {
		ev = ev.Str("volume", volume)
	}
	if correlation != "" {
		ev = ev.Str("correlation", correlation)
	}
	ev.Msg(msg)
	c.diags = append(c.diags, Diagnostic{Kind: kind, Volume: volume, Correlation: correlation, Message: msg})
	c.recorder.Diagnostic(string(kind))
}

// reject reports a caller error and returns it unchanged.
func (c *Controller) reject(op, volume string, err error) error {
	c.warn(kindOf(err), volume, "", fmt.Sprintf("%s: %v", op, err))
	return err
}

func (c *Controller) reconcileActive() {
	if fb := c.store.ReconcileActive(); fb != nil {
		c.warn(DiagActiveFallback, fb.From, "",
			fmt.Sprintf("active volume %q gone, falling back to %q (%s)", fb.From, fb.To, fb.Source))
	}
}

// draft returns the client draft id or an error naming why it is not editable.
func (c *Controller) draft(id string) (*volumes.Volume, error) {
	if v, ok := c.store.Client(id); ok {
		return v, nil
	}
	if _, ok := c.store.Server(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrServerVolume, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
}

// edited marks v changed. Editing a failed draft makes it editable again.
func (c *Controller) edited(v *volumes.Volume) {
	if v.State == volumes.StateCreateFailed {
		v.State = volumes.StateNewOnClient
		v.Error = ""
	}
	c.dirty = true
}

// availableLists returns the available HDD and SSD paths. Before the first
// successful available-disks query the catalog's own flags apply.
func (c *Controller) availableLists() (hdds, ssds []string) {
	var avail func(string) bool
	if c.store.AvailableDisks() != nil {
		avail = c.store.IsAvailable
	}
	return c.catalog.ByClass(disks.ClassHDD, avail), c.catalog.ByClass(disks.ClassSSD, avail)
}

// DisksNeedRefresh reports whether an available-disks query should be
// issued: the cache is stale or was never filled, and none is in flight.
func (c *Controller) DisksNeedRefresh() bool {
	if c.ledger.Pending(ledger.KindAvailableDisksQuery) {
		return false
	}
	return c.ledger.DisksStale() || c.store.AvailableDisks() == nil
}

// Breakdown computes the usable and parity capacity of a volume's data vdevs.
func (c *Controller) Breakdown(id string) (topology.Breakdown, error) {
	v, src := c.store.Lookup(id)
	if src == volumes.SourceNone {
		return topology.Breakdown{}, fmt.Errorf("%w: %s", ErrVolumeNotFound, id)
	}
	return topology.TopologyBreakdown(v.Topology, c.catalog)
}

// AllowedTypes lists the vdev types legal for members in the purpose group
// of volume id at index. Vdevs already present on the server keep their type.
func (c *Controller) AllowedTypes(id string, purpose topology.Purpose, index int, members []string) []topology.VdevType {
	current := topology.Empty
	onServer := false
	if v, ok := c.store.Server(id); ok {
		if g := v.Topology.Group(purpose); index >= 0 && index < len(g) {
			onServer = true
			current = g[index].Type
		}
	}
	return topology.AllowedVdevTypesFor(members, purpose, onServer, current)
}
