package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{
			name: "unknown exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "zipkin"
			},
			wantErr: "invalid trace exporter",
		},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{
			name: "async without buffer",
			mutate: func(c *Config) {
				c.Events.EnableAsync = true
				c.Events.BufferSize = 0
			},
			wantErr: "buffer size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("engine").
		WithSessionID("sess_1").
		WithExecutionID("exec_1").
		WithStep("coverage", "staging").
		Info("step completed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}

	want := map[string]string{
		"component":    "engine",
		"session_id":   "sess_1",
		"execution_id": "exec_1",
		"step":         "coverage",
		"environment":  "staging",
		"message":      "step completed",
		"level":        "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn should be logged, got %s", buf.String())
	}
}

func TestLoggerContext(t *testing.T) {
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &bytes.Buffer{})
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Fatal("FromContext() did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext() without logger should return a no-op logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"unknown": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetricsRecording(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordExecutionStarted("auto")
	m.RecordExecutionStarted("auto")
	m.RecordExecutionCompleted("completed", 2*time.Second)
	m.RecordStepCall("coverage", "staging", "success", 100*time.Millisecond)
	m.RecordDifferences("coverage", 2, 1, 0)
	m.RecordPersistenceError("write_progress")
	m.RecordEviction("session")
	m.RecordPolicyViolation("no-critical-differences", "error")
	m.SetActiveTasks(1)
	m.SetQueuedTasks(3)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"executions started", testutil.ToFloat64(m.executionsStarted.WithLabelValues("auto")), 2},
		{"executions completed", testutil.ToFloat64(m.executionsCompleted.WithLabelValues("completed")), 1},
		{"step calls", testutil.ToFloat64(m.stepCalls.WithLabelValues("coverage", "staging", "success")), 1},
		{"critical differences", testutil.ToFloat64(m.differences.WithLabelValues("coverage", "critical")), 2},
		{"warning differences", testutil.ToFloat64(m.differences.WithLabelValues("coverage", "warning")), 1},
		{"persistence errors", testutil.ToFloat64(m.persistenceErrors.WithLabelValues("write_progress")), 1},
		{"evictions", testutil.ToFloat64(m.evictions.WithLabelValues("session")), 1},
		{"policy violations", testutil.ToFloat64(m.policyViolations.WithLabelValues("no-critical-differences", "error")), 1},
		{"active tasks", testutil.ToFloat64(m.activeTasks), 1},
		{"queued tasks", testutil.ToFloat64(m.queuedTasks), 3},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	// info severity with zero count is not emitted
	if n := testutil.CollectAndCount(m.differences); n != 2 {
		t.Errorf("difference series = %d, want 2", n)
	}
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordExecutionStarted("auto")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "parity_executions_started_total") {
		t.Errorf("metrics output missing executions counter:\n%s", rec.Body.String())
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// must not panic
	m.RecordExecutionStarted("auto")
	m.RecordExecutionCompleted("failed", time.Second)
	m.RecordStepCall("quote", "target", "failure", time.Second)
	m.RecordDifferences("quote", 1, 1, 1)
	m.RecordPersistenceError("x")
	m.RecordEviction("execution")
	m.RecordPolicyViolation("p", "warning")
	m.SetActiveTasks(1)
	m.SetQueuedTasks(1)

	if m.Registry() != nil {
		t.Error("Registry() should be nil when disabled")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

type eventCollector struct {
	mu     sync.Mutex
	events []*engine.Event
}

func (c *eventCollector) handle(_ context.Context, e *engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) snapshot() []*engine.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*engine.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestEventPublisherSync(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})
	var all, failures eventCollector
	ep.Subscribe(all.handle, nil)
	ep.Subscribe(failures.handle, FilterByType(engine.EventTypeStepFailed))

	ctx := context.Background()
	if err := ep.Publish(ctx, &engine.Event{Type: engine.EventTypeExecutionStarted, SessionID: "s1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := ep.Publish(ctx, &engine.Event{Type: engine.EventTypeStepFailed, SessionID: "s1", Step: "quote"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := all.snapshot()
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[0].Type != engine.EventTypeExecutionStarted || got[1].Type != engine.EventTypeStepFailed {
		t.Errorf("events out of order: %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("Publish() should stamp ID and Timestamp")
	}
	if got[1].Level != "error" {
		t.Errorf("step.failed level = %q, want error", got[1].Level)
	}
	if n := len(failures.snapshot()); n != 1 {
		t.Errorf("filtered subscriber received %d events, want 1", n)
	}
}

func TestEventPublisherUnsubscribe(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})
	var c eventCollector
	unsubscribe := ep.Subscribe(c.handle, nil)

	_ = ep.Publish(context.Background(), &engine.Event{Type: engine.EventTypeSessionEvicted})
	unsubscribe()
	_ = ep.Publish(context.Background(), &engine.Event{Type: engine.EventTypeSessionEvicted})

	if n := len(c.snapshot()); n != 1 {
		t.Errorf("received %d events, want 1", n)
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: false})
	var c eventCollector
	ep.Subscribe(c.handle, nil)

	if err := ep.Publish(context.Background(), &engine.Event{Type: engine.EventTypeExecutionStarted}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n := len(c.snapshot()); n != 0 {
		t.Errorf("disabled publisher delivered %d events", n)
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	var c eventCollector
	ep.Subscribe(c.handle, nil)

	for i := 0; i < 5; i++ {
		if err := ep.Publish(context.Background(), &engine.Event{Type: engine.EventTypeStepCompleted}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := len(c.snapshot()); n != 5 {
		t.Errorf("delivered %d events, want 5", n)
	}

	if err := ep.Publish(context.Background(), &engine.Event{Type: engine.EventTypeStepCompleted}); err == nil {
		t.Error("Publish() after Shutdown should fail")
	}
}

func TestEventFilters(t *testing.T) {
	warn := &engine.Event{Type: engine.EventTypePersistenceWarning, Level: "warning", SessionID: "a"}
	info := &engine.Event{Type: engine.EventTypeExecutionStarted, Level: "info", SessionID: "b"}

	if !FilterByLevel("warning")(warn) || FilterByLevel("warning")(info) {
		t.Error("FilterByLevel(warning) mismatch")
	}
	if !FilterBySession("a")(warn) || FilterBySession("a")(info) {
		t.Error("FilterBySession(a) mismatch")
	}
	if !FilterByType(engine.EventTypeExecutionStarted)(info) || FilterByType(engine.EventTypeExecutionStarted)(warn) {
		t.Error("FilterByType mismatch")
	}
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	sub := LogSubscriber(logger)

	sub(context.Background(), &engine.Event{
		Type:      engine.EventTypePolicyViolation,
		Level:     "warning",
		SessionID: "sess_1",
		Message:   "critical differences found",
	})

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"event_type":"policy.violation"`, `"session_id":"sess_1"`, "critical differences found"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestTracerDisabled(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "parity", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	_, span := tr.StartSpan(context.Background(), "op", AttrSessionID.String("s1"))
	if span.IsRecording() {
		t.Error("disabled tracer should not record spans")
	}
	span.End()
	if TraceID(context.Background()) != "" {
		t.Error("context without span should not expose a trace id")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stdout"
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "error"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("FromTelemetryContext() did not return the stored telemetry")
	}
	if FromTelemetryContext(context.Background()) != nil {
		t.Error("FromTelemetryContext() on bare context should be nil")
	}
	if err := tel.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
