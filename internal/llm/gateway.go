package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/traduki/traduki/internal/usage"
)

const (
	costWindow      = 60 * time.Second
	penaltyDuration = 5 * time.Minute

	// Cost recorded against the window when the primary fails without
	// reporting usage, so repeated failures also push toward the budget
	// ceiling.
	syntheticFailureCost = 2500
)

// Accountant is the slice of the usage ledger the gateway needs.
type Accountant interface {
	Check(id usage.Identity) error
	CheckAndUpdate(id usage.Identity, cost int64) error
}

type costSample struct {
	at   time.Time
	cost int64
}

// Gateway routes completions between a primary and a fallback backend.
//
// Selection per call: a live penalty window (set after a primary failure)
// forces the fallback; otherwise the trailing 60-second cost sum above the
// budget forces the fallback; otherwise the primary is used. A primary
// failure is retried once on the fallback; a fallback failure is fatal.
// Only primary traffic is recorded in the cost window.
type Gateway struct {
	primary   Backend
	fallback  Backend
	ledger    Accountant
	budget    int64
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	samples      []costSample
	penaltyUntil time.Time
}

// NewGateway creates a Gateway. budgetPerMinute is the trailing-window cost
// ceiling above which calls are routed to the fallback.
func NewGateway(primary, fallback Backend, ledger Accountant, budgetPerMinute int64) *Gateway {
	return &Gateway{
		primary:  primary,
		fallback: fallback,
		ledger:   ledger,
		budget:   budgetPerMinute,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Invoke completes the prompt without tools.
func (g *Gateway) Invoke(ctx context.Context, id usage.Identity, prompt string) (*Completion, error) {
	return g.invoke(ctx, id, prompt, nil)
}

// InvokeWithTools completes the prompt offering the given tools to the model.
func (g *Gateway) InvokeWithTools(ctx context.Context, id usage.Identity, prompt string, tools []ToolDef) (*Completion, error) {
	return g.invoke(ctx, id, prompt, tools)
}

func (g *Gateway) invoke(ctx context.Context, id usage.Identity, prompt string, tools []ToolDef) (*Completion, error) {
	if err := g.ledger.Check(id); err != nil {
		return nil, err
	}

	backend, isPrimary := g.selectBackend()

	comp, err := backend.Complete(ctx, prompt, tools)
	if err != nil {
		if !isPrimary {
			return nil, fmt.Errorf("%w: %s: %v", ErrBackendFailure, backend.Name(), err)
		}

		// Primary failed: open the penalty window, charge a synthetic
		// sample, and retry once on the fallback.
		now := g.now()
		g.mu.Lock()
		g.penaltyUntil = now.Add(penaltyDuration)
		g.samples = append(g.samples, costSample{at: now, cost: syntheticFailureCost})
		g.mu.Unlock()
		g.logger.Warn("primary backend failed, switching to fallback",
			"backend", backend.Name(), "error", err, "penalty", penaltyDuration)

		comp, err = g.fallback.Complete(ctx, prompt, tools)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBackendFailure, g.fallback.Name(), err)
		}
		isPrimary = false
	} else if isPrimary {
		g.mu.Lock()
		g.samples = append(g.samples, costSample{at: g.now(), cost: comp.Cost})
		g.mu.Unlock()
	}

	if err := g.ledger.CheckAndUpdate(id, comp.Cost); err != nil {
		// The completion already happened; accounting failures must not
		// discard it, but they may not pass silently either.
		g.logger.Error("recording usage failed", "error", err, "cost", comp.Cost)
	}

	g.logger.Debug("completion served",
		"backend", backendLabel(isPrimary), "cost", comp.Cost, "tool_calls", len(comp.ToolCalls))
	return comp, nil
}

// selectBackend applies the routing policy and returns the chosen backend.
func (g *Gateway) selectBackend() (Backend, bool) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Evict samples older than the window from the front.
	cutoff := now.Add(-costWindow)
	i := 0
	for i < len(g.samples) && g.samples[i].at.Before(cutoff) {
		i++
	}
	g.samples = g.samples[i:]

	if now.Before(g.penaltyUntil) {
		g.logger.Warn("penalty active, forcing fallback backend",
			"until", g.penaltyUntil.Format(time.RFC3339))
		return g.fallback, false
	}

	var windowCost int64
	for _, s := range g.samples {
		windowCost += s.cost
	}
	if windowCost > g.budget {
		g.logger.Warn("cost budget exceeded in trailing window, using fallback backend",
			"window_cost", windowCost, "budget", g.budget)
		return g.fallback, false
	}

	return g.primary, true
}

func backendLabel(isPrimary bool) string {
	if isPrimary {
		return "primary"
	}
	return "fallback"
}
