package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOp(t *testing.T) {
	m := New()
	m.ObserveOp("derive", time.Now(), nil)
	m.ObserveOp("derive", time.Now(), nil)
	m.ObserveOp("derive", time.Now(), hsmerr.New(hsmerr.KindNotFound, "slot 20"))

	if got := testutil.ToFloat64(m.ops.WithLabelValues("derive", "ok")); got != 2 {
		t.Errorf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ops.WithLabelValues("derive", "NotFound")); got != 1 {
		t.Errorf("NotFound count = %v, want 1", got)
	}
}

func TestSetSlotsAndSessions(t *testing.T) {
	m := New()
	m.SetSlots("own", 4)
	m.SetSlots("own", 3)
	m.Session("generate", OutcomeStarted)
	m.Session("generate", OutcomeCancelled)

	if got := testutil.ToFloat64(m.slots.WithLabelValues("own")); got != 3 {
		t.Errorf("slots = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.sessions.WithLabelValues("generate", OutcomeCancelled)); got != 1 {
		t.Errorf("cancelled sessions = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveOp("x", time.Now(), nil)
	m.SetSlots("own", 1)
	m.Session("restore", OutcomeLost)
	if m.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetSlots("foreign", 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `klinghsm_slots_in_use{kind="foreign"} 2`) {
		t.Error("slot gauge missing from exposition")
	}
}
