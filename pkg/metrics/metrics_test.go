package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Event(model.EventMessageSend, nil)
	m.Event(model.EventMessageSend, errors.New("boom"))
	m.Event(model.EventMessageSend, nil)
	m.Broadcast(model.EventMessageNew, 3)
	m.Presence(model.StatusOnline)
	m.Connected()
	m.Connected()
	m.Disconnected()
	m.Archive(model.EventMessageNew, nil)

	if got := testutil.ToFloat64(m.Events.WithLabelValues("message:send", "ok")); got != 2 {
		t.Fatalf("ok events = %v", got)
	}
	if got := testutil.ToFloat64(m.Broadcasts.WithLabelValues("message:new")); got != 3 {
		t.Fatalf("broadcasts = %v", got)
	}
	if got := testutil.ToFloat64(m.Archived.WithLabelValues("message:new", "ok")); got != 1 {
		t.Fatalf("archived = %v", got)
	}
	if got := testutil.ToFloat64(m.Connections); got != 1 {
		t.Fatalf("connections = %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Event(model.EventHeartbeat, nil)
	m.Connected()
	m.Presence(model.StatusOffline)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Presence(model.StatusOffline)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `dupahar_presence_transitions_total{status="OFFLINE"} 1`) {
		t.Fatalf("metrics body missing presence counter:\n%s", body)
	}
}
