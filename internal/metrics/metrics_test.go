package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"nithronos/nosvol/internal/ledger"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Transition("initialize")
	m.Transition("initialize")
	m.Diagnostic("draft_not_found")
	m.Refresh("issued")
	m.Ledger(ledger.Counts{VolumesRequests: 2, CreateRequests: 1, ActiveTasks: 3})

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("initialize")); got != 2 {
		t.Fatalf("transitions=%v", got)
	}
	if got := testutil.ToFloat64(m.diagnostics.WithLabelValues("draft_not_found")); got != 1 {
		t.Fatalf("diagnostics=%v", got)
	}
	if got := testutil.ToFloat64(m.outstanding.WithLabelValues("volumes")); got != 2 {
		t.Fatalf("outstanding volumes=%v", got)
	}
	if got := testutil.ToFloat64(m.outstanding.WithLabelValues("create")); got != 1 {
		t.Fatalf("outstanding create=%v", got)
	}
	if got := testutil.ToFloat64(m.activeTasks); got != 3 {
		t.Fatalf("active tasks=%v", got)
	}
	if got := testutil.ToFloat64(m.refreshes.WithLabelValues("issued")); got != 1 {
		t.Fatalf("refreshes=%v", got)
	}
}

func TestHandlerExposesBridgeDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WatchBridge(func() (int, int) { return 4, 7 })
	m.Diagnostic("no_payload")

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"nosvol_bridge_requests_queued 4",
		"nosvol_bridge_requests_inflight 7",
		`nosvol_diagnostics_total{kind="no_payload"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
