package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitTracing_Disabled(t *testing.T) {
	if err := InitTracing(TracingConfig{ServiceName: "test", Enabled: false}); err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	if err := InitTracing(TracingConfig{ServiceName: "test", Enabled: true, ExporterType: "none"}); err != nil {
		t.Fatalf("InitTracing none exporter: %v", err)
	}
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	err := InitTracing(TracingConfig{ServiceName: "test", Enabled: true, ExporterType: "jaeger"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestStartSpan_NoInit(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "poll-tick")
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	span.End()
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single pair", raw: "a=1", want: map[string]string{"a": "1"}},
		{
			name: "multiple pairs with spaces",
			raw:  "a=1, b=2",
			want: map[string]string{"a": "1", "b": "2"},
		},
		{name: "missing value dropped", raw: "a", want: map[string]string{}},
		{name: "empty key dropped", raw: "=1", want: map[string]string{}},
		{
			name: "value with equals sign",
			raw:  "auth=Basic dXNlcg==",
			want: map[string]string{"auth": "Basic dXNlcg=="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeaders(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("parseHeaders(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseHeaders(%q)[%q] = %q, want %q", tt.raw, k, got[k], v)
				}
			}
		})
	}
}

func TestMetricsHandlerServesRecordedSeries(t *testing.T) {
	InitMetrics()
	RecordGeneration("comet", "submitted")
	RecordPollTick("comet", "pending")
	SetActiveTasks(1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	MetricsHandler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	page := string(body)
	for _, series := range []string{
		"songbot_generations_total",
		"songbot_poll_ticks_total",
		"songbot_active_tasks",
	} {
		if !strings.Contains(page, series) {
			t.Errorf("metrics page missing %s", series)
		}
	}
}

func TestInitMetricsIdempotent(t *testing.T) {
	InitMetrics()
	InitMetrics() // must not panic on double registration
}
