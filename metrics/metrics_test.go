package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsDisabled_NoPanic(t *testing.T) {
	m := New(false)
	if m == nil {
		t.Fatal("metrics should not be nil (noop)")
	}

	m.RecordLogin("success")
	m.RecordRefresh("failure", "scheduled")
	m.RecordLogout()
	m.RecordGuardDecision("redirect")
	m.RecordStoreOp("set_multi", "ok")
	m.ObserveRequest("POST", "/api/auth/login", 200, 0.05)
}

func TestNilReceiver_NoPanic(t *testing.T) {
	var m *Metrics
	m.RecordLogin("success")
	m.RecordRefresh("success", "bootstrap")
	m.RecordLogout()
	m.RecordGuardDecision("render")
	m.RecordStoreOp("get", "ok")
	m.ObserveRequest("GET", "/api/auth/profile", 401, 0.01)
}

func TestMetricsEnabled_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(true, WithRegisterer(reg))

	m.RecordLogin("success")
	m.RecordLogin("failure")
	m.RecordRefresh("success", "interceptor")
	m.RecordLogout()
	m.RecordGuardDecision("loading")
	m.RecordStoreOp("delete", "ok")
	m.ObserveRequest("POST", "/api/auth/login", 200, 0.1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"chms_logins_total",
		"chms_token_refreshes_total",
		"chms_logouts_total",
		"chms_guard_decisions_total",
		"chms_store_operations_total",
		"chms_request_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("metric %q not registered", want)
		}
	}
}
