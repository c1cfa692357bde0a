package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMaintenanceRun_Result(t *testing.T) {
	okBefore := testutil.ToFloat64(maintenanceRuns.WithLabelValues("prune", "ok"))
	errBefore := testutil.ToFloat64(maintenanceRuns.WithLabelValues("prune", "error"))

	MaintenanceRun("prune", nil)
	MaintenanceRun("prune", errors.New("locked"))
	MaintenanceRun("prune", nil)

	if got := testutil.ToFloat64(maintenanceRuns.WithLabelValues("prune", "ok")) - okBefore; got != 2 {
		t.Errorf("ok runs: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(maintenanceRuns.WithLabelValues("prune", "error")) - errBefore; got != 1 {
		t.Errorf("error runs: got %v, want 1", got)
	}
}

func TestHumorDecision_EmptyModeNormalised(t *testing.T) {
	before := testutil.ToFloat64(humorDecisions.WithLabelValues("unknown", "fire"))
	HumorDecision("", true)
	if got := testutil.ToFloat64(humorDecisions.WithLabelValues("unknown", "fire")) - before; got != 1 {
		t.Errorf("unknown/fire: got %v, want 1", got)
	}
}

func TestObserveBackendCall(t *testing.T) {
	ObserveBackendCall("ollama", 250*time.Millisecond, true)
	if n := testutil.CollectAndCount(backendLatency); n == 0 {
		t.Error("expected at least one backend latency series")
	}
}

func TestMustRegister_Idempotent(t *testing.T) {
	MustRegister()
	MustRegister()

	SetActiveChats(3)
	if got := testutil.ToFloat64(activeChats); got != 3 {
		t.Errorf("active chats: got %v, want 3", got)
	}
}
