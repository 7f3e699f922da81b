package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/remotediag/remotediag/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scored(id string, score int) *Platform {
	return &Platform{
		ID:          id,
		DisplayName: id,
		Detect: func(ctx context.Context, run Executor) (int, error) {
			return score, nil
		},
	}
}

func failing(id string) *Platform {
	return &Platform{
		ID:          id,
		DisplayName: id,
		Detect: func(ctx context.Context, run Executor) (int, error) {
			return 0, errors.New("probe failed")
		},
	}
}

func noopExecutor(ctx context.Context, command string) (transport.Result, error) {
	return transport.Result{}, nil
}

func TestDetectPicksHighestScore(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(scored("low", 40))
	r.Register(scored("high", 90))
	r.Register(scored("mid", 60))

	got := r.Detect(context.Background(), noopExecutor)
	if got.ID != "high" {
		t.Errorf("expected high, got %s", got.ID)
	}
}

func TestDetectTieBreaksByRegistrationOrder(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(scored("a", 80))
	r.Register(scored("b", 80))

	// Repeated runs must stay deterministic.
	for i := 0; i < 10; i++ {
		got := r.Detect(context.Background(), noopExecutor)
		if got.ID != "a" {
			t.Fatalf("run %d: expected earlier-registered a, got %s", i, got.ID)
		}
	}
}

func TestDetectFallsBackWhenAllProbesFail(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(failing("a"))
	r.Register(failing("b"))

	got := r.Detect(context.Background(), noopExecutor)
	if got == nil {
		t.Fatal("Detect must always return a platform")
	}
	if got.ID != "generic" {
		t.Errorf("expected the generic baseline, got %s", got.ID)
	}
}

func TestDetectFallsBackBelowConfidenceFloor(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(scored("weak", MinConfidence-1))

	got := r.Detect(context.Background(), noopExecutor)
	if got.ID != "generic" {
		t.Errorf("scores below the floor must select the baseline, got %s", got.ID)
	}
}

func TestDetectSwallowsPanickingProbe(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&Platform{
		ID: "panicky",
		Detect: func(ctx context.Context, run Executor) (int, error) {
			panic("boom")
		},
	})
	r.Register(scored("stable", 70))

	got := r.Detect(context.Background(), noopExecutor)
	if got.ID != "stable" {
		t.Errorf("panicking probe must score as absent, got %s", got.ID)
	}
}

func TestDetectOnEmptyRegistry(t *testing.T) {
	r := NewRegistry(testLogger())

	got := r.Detect(context.Background(), noopExecutor)
	if got == nil || got.ID != "generic" {
		t.Errorf("empty registry must select the baseline, got %v", got)
	}
}

func TestSetFallback(t *testing.T) {
	r := NewRegistry(testLogger())
	r.SetFallback(&Platform{ID: "custom-baseline"})
	r.Register(failing("a"))

	got := r.Detect(context.Background(), noopExecutor)
	if got.ID != "custom-baseline" {
		t.Errorf("expected custom baseline, got %s", got.ID)
	}
}

func TestDetectProbesSequentiallyInOrder(t *testing.T) {
	var order []string
	probe := func(id string) *Platform {
		return &Platform{
			ID: id,
			Detect: func(ctx context.Context, run Executor) (int, error) {
				order = append(order, id) // safe: probes must not run concurrently
				return 50, nil
			},
		}
	}

	r := NewRegistry(testLogger())
	r.Register(probe("first"))
	r.Register(probe("second"))
	r.Register(probe("third"))
	r.Detect(context.Background(), noopExecutor)

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("expected %d probes, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("probe %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}
