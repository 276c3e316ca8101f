package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	if m.EventsPublishedTotal == nil {
		t.Error("EventsPublishedTotal should not be nil")
	}
	if m.HandlerDuration == nil {
		t.Error("HandlerDuration should not be nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
}

func TestRecordEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordEvent("task.created")
	m.RecordEventDropped("task.created")
	m.RecordHandler("task.created", "pipeline.inbox", 10*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordError("VAL_KIRA_FSM", "task.transition")
	m.RecordError("RES_KIRA_DUP", "dedupe.check")
}

func TestRecordVaultWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordVaultWrite("task", "success", 2*time.Millisecond)
	m.RecordVaultWrite("task", "failed", time.Millisecond)
	m.SetVaultEntityCount("task", 42)
}

func TestRecordAgentRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordAgentRun("done", 2*time.Second)
	m.RecordAgentStep("plan")
	m.RecordAgentBudgetAbort("max_steps")
}

func TestRecordPluginInvocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordPluginInvocation("telegram-bridge", "success", 5*time.Millisecond)
}

func TestRecordRouterCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordRouterCall("planning", "primary", "success", time.Second)
	m.RecordRouterFallback("planning")
}

func TestUpdateUptime(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)
	startTime := time.Now().Add(-1 * time.Hour)

	m.UpdateUptime(startTime)
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Error("Expected metrics to be registered")
	}
}
