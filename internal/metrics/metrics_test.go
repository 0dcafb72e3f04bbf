package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestInitIsIdempotentAndRegistersCollectors(t *testing.T) {
	r1 := Init()
	r2 := Init()
	if r1 != r2 {
		t.Fatal("Init should return the same registry on repeated calls")
	}
	families, err := r1.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestSetPoolGauges(t *testing.T) {
	SetPoolGauges(3, 7, 1)
	if got := gaugeValue(t, PoolBorrowedGauge); got != 3 {
		t.Fatalf("PoolBorrowedGauge = %v, want 3", got)
	}
	if got := gaugeValue(t, PoolAvailableGauge); got != 7 {
		t.Fatalf("PoolAvailableGauge = %v, want 7", got)
	}
	if got := gaugeValue(t, PoolWaitingGauge); got != 1 {
		t.Fatalf("PoolWaitingGauge = %v, want 1", got)
	}
}

func TestRecordDisposeIncrementsByReason(t *testing.T) {
	before := counterValue(t, PoolDisposeTotal.WithLabelValues("test-reason"))
	RecordDispose("test-reason")
	after := counterValue(t, PoolDisposeTotal.WithLabelValues("test-reason"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}

func gaugeValue(t *testing.T, g interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
