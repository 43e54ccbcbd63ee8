package telemetry_test

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/internal/testutil"
	"github.com/tolelom/commons/telemetry"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "commons", "n1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetupWithEndpoint(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := telemetry.Setup(context.Background(), "commons", "n1", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestEngineSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	eng := game.New(testutil.NewClockedLedger(nil, 0), nil, game.WithTracer(tp.Tracer("test")))
	ctx := context.Background()
	params := core.GameParams{RegenerationFactor: 1, StartAmount: 10, NumRounds: 1}
	r0, err := eng.NewSession(ctx, "alice", []core.AgentID{"alice"}, params, "")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = eng.SubmitMove(ctx, "alice", r0, 1)
	if _, err := eng.TryCloseRound(ctx, "alice", r0); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for _, s := range rec.Ended() {
		seen[s.Name()] = true
	}
	for _, name := range []string{"game.NewSession", "game.TryCloseRound", "game.EndGame"} {
		if !seen[name] {
			t.Errorf("missing span %s (got %v)", name, seen)
		}
	}
}
