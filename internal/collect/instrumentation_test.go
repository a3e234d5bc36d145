package collect

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentationRecords(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	instr := NewInstrumentation(registry)

	instr.observeCall("pull_detail")
	instr.observeCall("pull_detail")
	instr.observeEntity("pull", "complete")
	instr.setQuotaRemaining(4100)

	if got := testutil.ToFloat64(instr.apiCalls.WithLabelValues("pull_detail")); got != 2 {
		t.Fatalf("api calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(instr.entities.WithLabelValues("pull", "complete")); got != 1 {
		t.Fatalf("entities = %v, want 1", got)
	}
	if got := testutil.ToFloat64(instr.quotaRemaining); got != 4100 {
		t.Fatalf("quota gauge = %v, want 4100", got)
	}
}

func TestInstrumentationNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var instr *Instrumentation
	instr.observeCall("pull_detail")
	instr.observeEntity("issue", "failed")
	instr.setQuotaRemaining(0)
}
