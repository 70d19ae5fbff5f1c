package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airframesio/cell-exporter/cmd/stations"
	"github.com/airframesio/cell-exporter/cmd/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func TestJobMetricsObserve(t *testing.T) {
	finished := time.Date(2024, 3, 15, 10, 0, 5, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		m := newJobMetrics()
		m.observe(&JobResult{Rows: 42, Bytes: 1024, FinishedAt: finished, Duration: 5 * time.Second}, nil)

		if got := testutil.ToFloat64(m.rows); got != 42 {
			t.Errorf("rows = %v, want 42", got)
		}
		if got := testutil.ToFloat64(m.bytes); got != 1024 {
			t.Errorf("bytes = %v, want 1024", got)
		}
		if got := testutil.ToFloat64(m.duration); got != 5 {
			t.Errorf("duration = %v, want 5", got)
		}
		if got := testutil.ToFloat64(m.lastSuccess); got != float64(finished.Unix()) {
			t.Errorf("last success = %v, want %d", got, finished.Unix())
		}
		if got := testutil.ToFloat64(m.failed); got != 0 {
			t.Errorf("failed = %v, want 0", got)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		m := newJobMetrics()
		m.observe(&JobResult{Duration: time.Second}, errors.New("boom"))

		if got := testutil.ToFloat64(m.failed); got != 1 {
			t.Errorf("failed = %v, want 1", got)
		}
		if got := testutil.ToFloat64(m.lastSuccess); got != 0 {
			t.Errorf("last success should stay unset, got %v", got)
		}
		if got := testutil.ToFloat64(m.duration); got != 1 {
			t.Errorf("duration = %v, want 1", got)
		}
	})

	t.Run("Registered", func(t *testing.T) {
		m := newJobMetrics()
		n, err := testutil.GatherAndCount(m.registry)
		if err != nil {
			t.Fatalf("gather failed: %v", err)
		}
		if n != 5 {
			t.Errorf("expected 5 series, got %d", n)
		}
	})
}

// fakePushgateway records every push request and keeps the metric groups
// the way a pushgateway does: PUT replaces a group, POST merges into it.
type fakePushgateway struct {
	mu     sync.Mutex
	paths  []string
	bodies []string
	groups map[string]map[string]*dto.MetricFamily
	status int
}

func (p *fakePushgateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	families := make(map[string]*dto.MetricFamily)
	decoder := expfmt.NewDecoder(bytes.NewReader(body), expfmt.ResponseFormat(r.Header))
	for {
		mf := &dto.MetricFamily{}
		if err := decoder.Decode(mf); err != nil {
			break
		}
		families[mf.GetName()] = mf
	}

	p.mu.Lock()
	p.paths = append(p.paths, r.Method+" "+r.URL.Path)
	p.bodies = append(p.bodies, string(body))
	status := p.status
	if status == 0 || status == http.StatusOK {
		if p.groups == nil {
			p.groups = make(map[string]map[string]*dto.MetricFamily)
		}
		group := p.groups[r.URL.Path]
		if r.Method == http.MethodPut || group == nil {
			group = make(map[string]*dto.MetricFamily)
			p.groups[r.URL.Path] = group
		}
		for name, mf := range families {
			group[name] = mf
		}
	}
	p.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (p *fakePushgateway) requests() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...), append([]string(nil), p.bodies...)
}

// gauge returns the stored value of a gauge in a group
func (p *fakePushgateway) gauge(group, name string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mf, ok := p.groups[group][name]
	if !ok || len(mf.GetMetric()) == 0 {
		return 0, false
	}
	return mf.GetMetric()[0].GetGauge().GetValue(), true
}

func TestJobMetricsPush(t *testing.T) {
	t.Run("GroupedByMode", func(t *testing.T) {
		gw := &fakePushgateway{}
		server := httptest.NewServer(gw)
		defer server.Close()

		m := newJobMetrics()
		m.observe(&JobResult{Rows: 7, FinishedAt: time.Now()}, nil)
		m.push(context.Background(), server.URL, ModeDiff, newTestLogger())

		paths, _ := gw.requests()
		if len(paths) != 1 {
			t.Fatalf("expected one push, got %d", len(paths))
		}
		if paths[0] != "PUT /metrics/job/cell_export/mode/diff" {
			t.Errorf("unexpected push %s", paths[0])
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		gw := &fakePushgateway{}
		server := httptest.NewServer(gw)
		defer server.Close()

		m := newJobMetrics()
		m.push(context.Background(), "", ModeFull, newTestLogger())

		if paths, _ := gw.requests(); len(paths) != 0 {
			t.Errorf("expected no push, got %v", paths)
		}
	})

	t.Run("GatewayErrorIsIgnored", func(t *testing.T) {
		gw := &fakePushgateway{status: http.StatusInternalServerError}
		server := httptest.NewServer(gw)
		defer server.Close()

		m := newJobMetrics()
		m.push(context.Background(), server.URL, ModeFull, newTestLogger())

		if paths, _ := gw.requests(); len(paths) != 1 {
			t.Errorf("expected one push attempt, got %d", len(paths))
		}
	})
}

func TestExporterPushesMetrics(t *testing.T) {
	gw := &fakePushgateway{}
	server := httptest.NewServer(gw)
	defer server.Close()

	ref := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	source := &sliceSource{err: errors.New("store down")}
	e, _ := newTestExporter(t, source, nil)
	e.settings.Pushgateway = server.URL

	if _, err := e.RunFullExport(context.Background(), ref, ""); err == nil {
		t.Fatal("expected export to fail")
	}

	paths, bodies := gw.requests()
	if len(paths) != 1 {
		t.Fatalf("expected one push, got %d", len(paths))
	}
	if paths[0] != "POST /metrics/job/cell_export/mode/full" {
		t.Errorf("unexpected push %s", paths[0])
	}
	if !strings.Contains(bodies[0], "cell_export_failed") {
		t.Error("push body does not carry the failure gauge")
	}
	if strings.Contains(bodies[0], "cell_export_last_success_timestamp_seconds") {
		t.Error("failure push must not resend the success timestamp")
	}
}

func TestFailedJobKeepsLastSuccess(t *testing.T) {
	gw := &fakePushgateway{}
	server := httptest.NewServer(gw)
	defer server.Close()

	const group = "/metrics/job/cell_export/mode/diff"
	ref := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	source := &sliceSource{records: []stations.Record{station(1, ref.Add(-30*time.Minute))}}
	uploader := storage.NewMemoryUploader()
	e, _ := newTestExporter(t, source, uploader)
	e.settings.Pushgateway = server.URL

	if _, err := e.RunDiffExport(context.Background(), ref, ""); err != nil {
		t.Fatalf("first export failed: %v", err)
	}
	lastSuccess, ok := gw.gauge(group, "cell_export_last_success_timestamp_seconds")
	if !ok || lastSuccess == 0 {
		t.Fatalf("success push did not record a timestamp: %v %v", lastSuccess, ok)
	}

	uploader.Err = errors.New("503 slow down")
	if _, err := e.RunDiffExport(context.Background(), ref.Add(time.Hour), ""); err == nil {
		t.Fatal("second export should fail")
	}

	paths, _ := gw.requests()
	if len(paths) != 2 || paths[0] != "PUT "+group || paths[1] != "POST "+group {
		t.Fatalf("unexpected pushes %v", paths)
	}

	if got, _ := gw.gauge(group, "cell_export_last_success_timestamp_seconds"); got != lastSuccess {
		t.Errorf("last success = %v after a failure, want %v", got, lastSuccess)
	}
	if got, _ := gw.gauge(group, "cell_export_rows"); got != 1 {
		t.Errorf("rows = %v after a failure, want 1", got)
	}
	if got, _ := gw.gauge(group, "cell_export_failed"); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}
