package obsmetrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestSessionOpenedAndClosedTrackGauge(t *testing.T) {
	c := New()
	c.SessionOpened("mysql")
	c.SessionOpened("mysql")
	c.SessionClosed("mysql")

	val := getGaugeValue(c.sessionsOpen.WithLabelValues("mysql"))
	if val != 1 {
		t.Fatalf("sessionsOpen = %v; want 1", val)
	}
}

func TestRequestCompletedDecrementsPendingAndCountsErrors(t *testing.T) {
	c := New()
	c.RequestEnqueued("postgres")
	c.RequestEnqueued("postgres")

	c.RequestCompleted("postgres", "query", 5*time.Millisecond, nil)
	if val := getGaugeValue(c.requestsPending.WithLabelValues("postgres")); val != 1 {
		t.Fatalf("requestsPending = %v; want 1", val)
	}

	c.RequestCompleted("postgres", "query", 5*time.Millisecond, fmt.Errorf("boom"))
	if val := getGaugeValue(c.requestsPending.WithLabelValues("postgres")); val != 0 {
		t.Fatalf("requestsPending = %v; want 0", val)
	}
	if val := getCounterValue(c.requestErrors.WithLabelValues("postgres", "query")); val != 1 {
		t.Fatalf("requestErrors = %v; want 1", val)
	}
}

func TestSetPipelineDepth(t *testing.T) {
	c := New()
	c.SetPipelineDepth("mysql", 7)
	if val := getGaugeValue(c.pipelineDepth.WithLabelValues("mysql")); val != 7 {
		t.Fatalf("pipelineDepth = %v; want 7", val)
	}
}

func TestRequestDurationObservedInHistogram(t *testing.T) {
	c := New()
	c.RequestEnqueued("mysql")
	c.RequestCompleted("mysql", "update", 10*time.Millisecond, nil)

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "asyncsql_request_duration_seconds" {
			found = true
			if len(f.GetMetric()) != 1 {
				t.Fatalf("expected one histogram series, got %d", len(f.GetMetric()))
			}
			if f.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
				t.Fatalf("expected one observation")
			}
		}
	}
	if !found {
		t.Fatal("asyncsql_request_duration_seconds not found in registry")
	}
}
