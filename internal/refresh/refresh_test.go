package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nithronos/nosvol/internal/disks"
	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/transport"
)

func startLoop(t *testing.T, tr reconcile.Transport) *reconcile.Loop {
	t.Helper()
	c := reconcile.New(reconcile.Deps{Logger: zerolog.Nop(), Transport: tr})
	l := reconcile.NewLoop(c)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = l.Run(ctx) }()
	return l
}

type results struct {
	mu  sync.Mutex
	got []string
}

func (r *results) add(s string) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func TestRefreshDisksOnlyWhenNeeded(t *testing.T) {
	bridge := transport.NewBridge(zerolog.Nop(), 0)
	loop := startLoop(t, bridge)
	var res results
	s := New(zerolog.Nop(), loop, Options{OnRefresh: res.add})
	ctx := context.Background()

	issued, err := s.RefreshDisks(ctx)
	if err != nil || !issued {
		t.Fatalf("first refresh: issued=%v err=%v", issued, err)
	}
	issued, err = s.RefreshDisks(ctx)
	if err != nil || issued {
		t.Fatalf("refresh with query in flight: issued=%v err=%v", issued, err)
	}

	reqs := bridge.Take(ctx, 0)
	if len(reqs) != 1 || reqs[0].Method != reconcile.MethodAvailableDisks {
		t.Fatalf("requests=%+v", reqs)
	}
	ev, err := bridge.Resolve(transport.Resolution{ID: reqs[0].ID, Outcome: reconcile.OutcomeSuccess, Data: []byte(`["/dev/sda"]`)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := loop.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if issued, _ := s.RefreshDisks(ctx); issued {
		t.Fatalf("fresh cache should not refresh")
	}

	if _, err := loop.Dispatch(ctx, reconcile.DisksChanged{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if issued, _ := s.RefreshDisks(ctx); !issued {
		t.Fatalf("stale cache should refresh")
	}
	want := []string{ResultIssued, ResultSkipped, ResultSkipped, ResultIssued}
	if len(res.got) != len(want) {
		t.Fatalf("results=%v want %v", res.got, want)
	}
	for i := range want {
		if res.got[i] != want[i] {
			t.Fatalf("results=%v want %v", res.got, want)
		}
	}
}

func TestRefreshRescansCatalog(t *testing.T) {
	bridge := transport.NewBridge(zerolog.Nop(), 0)
	loop := startLoop(t, bridge)
	inv := disks.NewInventory([]disks.Disk{{Path: "/dev/sdq", MediaSize: 10}})
	s := New(zerolog.Nop(), loop, Options{Rescan: func(context.Context) (reconcile.DiskCatalog, error) { return inv, nil }})
	if _, err := s.RefreshDisks(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	var paths []string
	_ = loop.Read(context.Background(), func(c *reconcile.Controller) error {
		paths = c.Catalog().Paths()
		return nil
	})
	if len(paths) != 1 || paths[0] != "/dev/sdq" {
		t.Fatalf("catalog not swapped: %v", paths)
	}
}

func TestRefreshKeepsCatalogOnRescanError(t *testing.T) {
	bridge := transport.NewBridge(zerolog.Nop(), 0)
	loop := startLoop(t, bridge)
	s := New(zerolog.Nop(), loop, Options{Rescan: func(context.Context) (reconcile.DiskCatalog, error) {
		return nil, errors.New("lsblk missing")
	}})
	issued, err := s.RefreshDisks(context.Background())
	if err != nil || !issued {
		t.Fatalf("rescan error must not block the query: issued=%v err=%v", issued, err)
	}
}

func TestSweepTimesOutOldRequests(t *testing.T) {
	bridge := transport.NewBridge(zerolog.Nop(), 0)
	loop := startLoop(t, bridge)
	s := New(zerolog.Nop(), loop, Options{Bridge: bridge, RequestTTL: time.Minute})
	ctx := context.Background()

	if _, err := loop.Do(ctx, "fetch", func(c *reconcile.Controller) error {
		_, err := c.FetchVolumes(ctx)
		return err
	}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n := s.Sweep(ctx, time.Now()); n != 0 {
		t.Fatalf("fresh request expired: %d", n)
	}
	if n := s.Sweep(ctx, time.Now().Add(2*time.Minute)); n != 1 {
		t.Fatalf("expired=%d", n)
	}
	snap, err := loop.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Ledger.VolumesRequests) != 0 {
		t.Fatalf("timed out query still pending: %v", snap.Ledger.VolumesRequests)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop(), startLoop(t, transport.NewBridge(zerolog.Nop(), 0)), Options{DiskSpec: "not a schedule"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestStartStop(t *testing.T) {
	bridge := transport.NewBridge(zerolog.Nop(), 0)
	s := New(zerolog.Nop(), startLoop(t, bridge), Options{DiskSpec: "@every 1h", Bridge: bridge})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}
