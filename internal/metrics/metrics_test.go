package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.Reconciled.Inc()
	m.Reconciled.Inc()
	m.ChannelErrors.Inc()

	if got := testutil.ToFloat64(m.Reconciled); got != 2 {
		t.Fatalf("got reconciled %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChannelErrors); got != 1 {
		t.Fatalf("got channel errors %v, want 1", got)
	}
	n, err := testutil.GatherAndCount(m.Registry())
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 8 {
		t.Fatalf("got %d series, want 8", n)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Appended.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "msgdash_messages_appended_total 1") {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Reconnects.Inc()
	if got := testutil.ToFloat64(b.Reconnects); got != 0 {
		t.Fatalf("got %v on second instance, want 0", got)
	}
	if OrNew(a) != a {
		t.Fatal("OrNew replaced a non-nil instance")
	}
	if OrNew(nil) == nil {
		t.Fatal("OrNew(nil) returned nil")
	}
}
