package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nocturneauth/authengine/internal/domain"
	appCtx "github.com/nocturneauth/authengine/internal/pkg/context"
	"github.com/nocturneauth/authengine/internal/store/memory"
)

func newTestEngine(t *testing.T, plugins ...*Plugin) *Engine {
	t.Helper()
	e, err := New(Options{
		Env:        EnvDevelopment,
		DB:         memory.New(func() string { return "id" }),
		Registerer: prometheus.NewRegistry(),
	}, plugins...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func echoPlugin() *Plugin {
	p := &Plugin{
		Name: "echo",
		Steps: []Step{
			{
				Name: "ping",
				Run: func(ctx context.Context, e *Engine, input Input) (Output, error) {
					return ok("ponged", "pong"), nil
				},
			},
			{
				Name: "boom",
				Run: func(ctx context.Context, e *Engine, input Input) (Output, error) {
					return Output{}, domain.ErrInvalidCredentials()
				},
			},
		},
	}
	return p
}

func TestEngine_ExecuteStep_Success(t *testing.T) {
	e := newTestEngine(t, echoPlugin())
	out := e.ExecuteStep(context.Background(), "echo", "ping", nil)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Status != "ponged" {
		t.Errorf("expected status ponged, got %q", out.Status)
	}
}

func TestEngine_ExecuteStep_RunError(t *testing.T) {
	e := newTestEngine(t, echoPlugin())
	out := e.ExecuteStep(context.Background(), "echo", "boom", nil)
	if out.Success {
		t.Fatal("expected failure output")
	}
	if out.Error == nil {
		t.Fatal("expected an error on the output envelope")
	}
}

func TestEngine_ExecuteStep_UnknownPlugin(t *testing.T) {
	e := newTestEngine(t, echoPlugin())
	out := e.ExecuteStep(context.Background(), "ghost", "ping", nil)
	if out.Success {
		t.Fatal("expected failure for unknown plugin")
	}
}

func TestEngine_ExecuteStep_UnknownStep(t *testing.T) {
	e := newTestEngine(t, echoPlugin())
	out := e.ExecuteStep(context.Background(), "echo", "ghost", nil)
	if out.Success {
		t.Fatal("expected failure for unknown step")
	}
}

func TestEngine_New_DuplicatePluginNameRejected(t *testing.T) {
	_, err := New(Options{DB: memory.New(func() string { return "id" })}, echoPlugin(), echoPlugin())
	if err == nil {
		t.Fatal("expected duplicate plugin registration to fail construction")
	}
}

func TestEngine_New_RequiresDB(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatal("expected engine construction without a Data-Access Port to fail")
	}
}

func TestEngine_New_RunsInitialize(t *testing.T) {
	initialized := false
	p := &Plugin{
		Name: "withinit",
		Initialize: func(e *Engine) error {
			initialized = true
			return nil
		},
		GetProfile: func(ctx ExecContext, subjectID string) (map[string]string, error) {
			return map[string]string{"subject_id": subjectID}, nil
		},
	}
	e := newTestEngine(t, p)
	if !initialized {
		t.Fatal("expected Initialize to run during construction")
	}
	_ = e
}

func TestEngine_ExecuteStep_BeforeHookShortCircuits(t *testing.T) {
	p := &Plugin{
		Name: "gated",
		Steps: []Step{
			{
				Name: "restricted",
				Before: func(ctx context.Context, e *Engine, input Input) error {
					return domain.ErrForbidden()
				},
				Run: func(ctx context.Context, e *Engine, input Input) (Output, error) {
					t.Fatal("Run should not be reached when Before fails")
					return Output{}, nil
				},
			},
		},
	}
	e := newTestEngine(t, p)
	out := e.ExecuteStep(context.Background(), "gated", "restricted", nil)
	if out.Success {
		t.Fatal("expected the before hook's error to fail the step")
	}
}

func TestEngine_RegisterCleanupTask_NoopWithoutScheduler(t *testing.T) {
	e := newTestEngine(t, echoPlugin())
	err := e.RegisterCleanupTask("echo", "noop", time.Minute, nil, nil)
	if err != nil {
		t.Fatalf("expected nil error when no scheduler is configured, got %v", err)
	}
}

func TestEngine_New_DefaultsNotifyLimiterAndMetrics(t *testing.T) {
	e := newTestEngine(t, echoPlugin())
	if e.NotifyLimiter() == nil {
		t.Fatal("expected a default notify limiter when none is supplied")
	}
	if e.Metrics() == nil {
		t.Fatal("expected metrics to always be initialized")
	}
}

func TestEngine_ExecuteStep_StampsRequestIDWhenMissing(t *testing.T) {
	var seen string
	p := &Plugin{
		Name: "idcheck",
		Steps: []Step{
			{
				Name: "report",
				Run: func(ctx context.Context, e *Engine, input Input) (Output, error) {
					seen = appCtx.GetRequestID(ctx)
					return ok("reported", ""), nil
				},
			},
		},
	}
	e := newTestEngine(t, p)
	e.ExecuteStep(context.Background(), "idcheck", "report", nil)
	if seen == "" {
		t.Fatal("expected ExecuteStep to stamp a request id onto the context")
	}
}

func TestEngine_ExecuteStep_PreservesCallerSuppliedRequestID(t *testing.T) {
	var seen string
	p := &Plugin{
		Name: "idcheck",
		Steps: []Step{
			{
				Name: "report",
				Run: func(ctx context.Context, e *Engine, input Input) (Output, error) {
					seen = appCtx.GetRequestID(ctx)
					return ok("reported", ""), nil
				},
			},
		},
	}
	e := newTestEngine(t, p)
	ctx := appCtx.WithRequestID(context.Background(), "caller-supplied")
	e.ExecuteStep(ctx, "idcheck", "report", nil)
	if seen != "caller-supplied" {
		t.Fatalf("expected the caller's request id to survive, got %q", seen)
	}
}
