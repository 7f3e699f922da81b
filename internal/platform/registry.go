package platform

import (
	"context"
	"fmt"
	"log/slog"
)

// MinConfidence is the score floor below which detection falls back to
// the baseline profile.
const MinConfidence = 25

// Registry holds the ordered list of candidate platforms. Registration
// order is significant: it breaks score ties, earliest wins. Registries
// are not safe for concurrent registration; register everything before
// calling Detect.
type Registry struct {
	logger    *slog.Logger
	platforms []*Platform
	fallback  *Platform
}

// NewRegistry creates an empty registry with the generic baseline as its
// fallback.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("component", "platform_registry"),
		fallback: Generic(),
	}
}

// Register appends a candidate. Order is preserved for tie-breaking.
func (r *Registry) Register(p *Platform) {
	r.platforms = append(r.platforms, p)
}

// SetFallback replaces the baseline profile selected when no candidate
// produces a usable score.
func (r *Registry) SetFallback(p *Platform) {
	if p != nil {
		r.fallback = p
	}
}

// Platforms returns the registered candidates in registration order.
func (r *Registry) Platforms() []*Platform {
	return r.platforms
}

// Detect probes each candidate sequentially through run and returns the
// best match. Probe errors and panics score the candidate as absent. If
// no candidate reaches MinConfidence, the baseline is returned. Detect
// always returns a platform and never fails.
func (r *Registry) Detect(ctx context.Context, run Executor) *Platform {
	var best *Platform
	bestScore := -1

	for _, p := range r.platforms {
		score, err := r.probe(ctx, p, run)
		if err != nil {
			r.logger.Debug("detection probe failed",
				"platform", p.ID,
				"error", err,
			)
			continue
		}
		r.logger.Debug("detection probe scored",
			"platform", p.ID,
			"score", score,
		)
		// Strictly-greater keeps the earliest registration on ties.
		if score > bestScore {
			best, bestScore = p, score
		}
	}

	if best == nil || bestScore < MinConfidence {
		r.logger.Info("no platform reached the confidence floor, using baseline",
			"baseline", r.fallback.ID,
			"best_score", bestScore,
		)
		return r.fallback
	}

	r.logger.Info("platform detected",
		"platform", best.ID,
		"score", bestScore,
	)
	return best
}

// probe invokes one candidate's Detect, converting panics into errors so
// a misbehaving probe can never abort detection.
func (r *Registry) probe(ctx context.Context, p *Platform, run Executor) (score int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("probe panic: %v", rec)
		}
	}()
	return p.Detect(ctx, run)
}
