package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/powermodel-sim/core"
	"github.com/signalsfoundry/powermodel-sim/internal/sim"
)

var (
	_ core.MetricsRecorder = (*ChannelCollector)(nil)
	_ sim.MetricsRecorder  = (*KernelCollector)(nil)
)

func TestChannelCollectorRecordsActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewChannelCollector(reg)
	if err != nil {
		t.Fatalf("NewChannelCollector: %v", err)
	}

	collector.EventReported("soc", "memory", "read", 3)
	collector.EventReported("soc", "memory", "read", 2)
	collector.StateReported("soc", "memory", "on")
	collector.EnergyPopped("soc", 0.25)
	collector.EnergyPopped("soc", 0)
	collector.StaticCurrent("soc", 1e-4)
	collector.SupplyVoltage("soc", 1.8)

	if got := testutil.ToFloat64(collector.EventsReported.WithLabelValues("soc", "memory", "read")); got != 5 {
		t.Fatalf("powermodel_events_reported_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.StateReports.WithLabelValues("soc", "memory", "on")); got != 1 {
		t.Fatalf("powermodel_state_reports_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.EnergyPoppedJ.WithLabelValues("soc")); got != 0.25 {
		t.Fatalf("powermodel_dynamic_energy_joules_total = %v, want 0.25", got)
	}
	if got := testutil.ToFloat64(collector.StaticCurrentA.WithLabelValues("soc")); got != 1e-4 {
		t.Fatalf("powermodel_static_current_amperes = %v, want 1e-4", got)
	}
	if got := testutil.ToFloat64(collector.SupplyVolts.WithLabelValues("soc")); got != 1.8 {
		t.Fatalf("powermodel_supply_voltage_volts = %v, want 1.8", got)
	}
}

func TestChannelCollectorRecordsFlushes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewChannelCollector(reg)
	if err != nil {
		t.Fatalf("NewChannelCollector: %v", err)
	}

	collector.LogFlushed("soc", "eventlog", 3, time.Millisecond, nil)
	collector.LogFlushed("soc", "eventlog", 2, time.Millisecond, errors.New("disk full"))

	if got := testutil.ToFloat64(collector.LogRowsWritten.WithLabelValues("soc", "eventlog")); got != 3 {
		t.Fatalf("powermodel_log_rows_written_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.LogFlushErrors.WithLabelValues("soc", "eventlog")); got != 1 {
		t.Fatalf("powermodel_log_flush_errors_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "powermodel_log_flush_duration_seconds", map[string]string{
		"channel": "soc",
		"log":     "eventlog",
	}); count != 2 {
		t.Fatalf("powermodel_log_flush_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestCollectorsReuseExistingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewChannelCollector(reg)
	if err != nil {
		t.Fatalf("NewChannelCollector: %v", err)
	}
	second, err := NewChannelCollector(reg)
	if err != nil {
		t.Fatalf("second NewChannelCollector: %v", err)
	}
	first.EventReported("soc", "memory", "write", 1)
	if got := testutil.ToFloat64(second.EventsReported.WithLabelValues("soc", "memory", "write")); got != 1 {
		t.Fatalf("second collector sees %v, want shared counter value 1", got)
	}

	if _, err := NewKernelCollector(reg); err != nil {
		t.Fatalf("NewKernelCollector: %v", err)
	}
	if _, err := NewKernelCollector(reg); err != nil {
		t.Fatalf("second NewKernelCollector: %v", err)
	}
}

func TestKernelCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewKernelCollector(reg)
	if err != nil {
		t.Fatalf("NewKernelCollector: %v", err)
	}

	collector.ObserveDispatched()
	collector.ObserveDispatched()
	collector.SetPending(7)
	collector.SetSimTime(1500 * time.Microsecond)

	if got := testutil.ToFloat64(collector.CallbacksDispatched); got != 2 {
		t.Fatalf("sim_kernel_callbacks_dispatched_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.CallbacksPending); got != 7 {
		t.Fatalf("sim_kernel_callbacks_pending = %v, want 7", got)
	}
	if got := testutil.ToFloat64(collector.SimTimeSeconds); got != 0.0015 {
		t.Fatalf("sim_kernel_time_seconds = %v, want 0.0015", got)
	}

	var nilCollector *KernelCollector
	nilCollector.ObserveDispatched()
	nilCollector.SetPending(1)
}

func TestMetricsHandlerExposesPowerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewChannelCollector(reg)
	if err != nil {
		t.Fatalf("NewChannelCollector: %v", err)
	}
	if _, err := NewKernelCollector(reg); err != nil {
		t.Fatalf("NewKernelCollector: %v", err)
	}
	collector.EventReported("soc", "memory", "read", 1)
	collector.SupplyVoltage("soc", 3.3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"powermodel_events_reported_total",
		"powermodel_supply_voltage_volts",
		"sim_kernel_callbacks_pending",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, "3.3") {
		t.Fatalf("/metrics output missing supply voltage value: %s", body)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
