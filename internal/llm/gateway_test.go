package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traduki/traduki/internal/usage"
)

type fakeBackend struct {
	name  string
	cost  int64
	err   error
	calls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, prompt string, tools []ToolDef) (*Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{Content: f.name + " says hi", Cost: f.cost}, nil
}

type fakeLedger struct {
	checkErr error
	recorded int64
}

func (f *fakeLedger) Check(id usage.Identity) error { return f.checkErr }

func (f *fakeLedger) CheckAndUpdate(id usage.Identity, cost int64) error {
	f.recorded += cost
	return nil
}

func newTestGateway(primary, fallback *fakeBackend, ledger *fakeLedger, budget int64) (*Gateway, *time.Time) {
	g := NewGateway(primary, fallback, ledger, budget)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	return g, &clock
}

func TestGatewayPrefersPrimary(t *testing.T) {
	primary := &fakeBackend{name: "primary", cost: 100}
	fallback := &fakeBackend{name: "fallback", cost: 50}
	ledger := &fakeLedger{}
	g, _ := newTestGateway(primary, fallback, ledger, 1000)

	comp, err := g.Invoke(context.Background(), usage.Identity{Addr: "1.2.3.4"}, "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if comp.Content != "primary says hi" {
		t.Errorf("content = %q, want primary response", comp.Content)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
	if ledger.recorded != 100 {
		t.Errorf("recorded usage = %d, want 100", ledger.recorded)
	}
}

func TestGatewayBudgetForcesFallback(t *testing.T) {
	primary := &fakeBackend{name: "primary", cost: 600}
	fallback := &fakeBackend{name: "fallback", cost: 50}
	ledger := &fakeLedger{}
	g, clock := newTestGateway(primary, fallback, ledger, 1000)

	ctx := context.Background()
	id := usage.Identity{Addr: "1.2.3.4"}

	// Two primary calls put 1200 in the window, over the 1000 budget.
	for i := 0; i < 2; i++ {
		if _, err := g.Invoke(ctx, id, "hello"); err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
	}
	comp, err := g.Invoke(ctx, id, "hello")
	if err != nil {
		t.Fatalf("Invoke over budget: %v", err)
	}
	if comp.Content != "fallback says hi" {
		t.Errorf("content = %q, want fallback response", comp.Content)
	}
	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2", primary.calls)
	}

	// Once the window slides past the recorded samples the primary
	// serves again.
	*clock = clock.Add(61 * time.Second)
	comp, err = g.Invoke(ctx, id, "hello")
	if err != nil {
		t.Fatalf("Invoke after window: %v", err)
	}
	if comp.Content != "primary says hi" {
		t.Errorf("content = %q, want primary after window reset", comp.Content)
	}
}

func TestGatewayPrimaryFailureFallsBack(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("upstream 500")}
	fallback := &fakeBackend{name: "fallback", cost: 50}
	ledger := &fakeLedger{}
	g, clock := newTestGateway(primary, fallback, ledger, 100000)

	ctx := context.Background()
	id := usage.Identity{UserID: "u1"}

	comp, err := g.Invoke(ctx, id, "hello")
	if err != nil {
		t.Fatalf("Invoke with failing primary: %v", err)
	}
	if comp.Content != "fallback says hi" {
		t.Errorf("content = %q, want fallback response", comp.Content)
	}

	// The failure opens a penalty window, so the next call skips the
	// primary entirely.
	if _, err := g.Invoke(ctx, id, "hello"); err != nil {
		t.Fatalf("Invoke during penalty: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1 (penalty should skip it)", primary.calls)
	}

	// After the penalty expires the primary gets another chance.
	primary.err = nil
	primary.cost = 10
	*clock = clock.Add(penaltyDuration + time.Second)
	comp, err = g.Invoke(ctx, id, "hello")
	if err != nil {
		t.Fatalf("Invoke after penalty: %v", err)
	}
	if comp.Content != "primary says hi" {
		t.Errorf("content = %q, want primary after penalty expiry", comp.Content)
	}
}

func TestGatewayFallbackFailureIsFatal(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("upstream 500")}
	fallback := &fakeBackend{name: "fallback", err: errors.New("also down")}
	ledger := &fakeLedger{}
	g, _ := newTestGateway(primary, fallback, ledger, 100000)

	_, err := g.Invoke(context.Background(), usage.Identity{UserID: "u1"}, "hello")
	if !errors.Is(err, ErrBackendFailure) {
		t.Fatalf("err = %v, want ErrBackendFailure", err)
	}
	if ledger.recorded != 0 {
		t.Errorf("recorded usage = %d, want 0 on total failure", ledger.recorded)
	}
}

func TestGatewayQuotaRejectsBeforeCompletion(t *testing.T) {
	primary := &fakeBackend{name: "primary", cost: 10}
	fallback := &fakeBackend{name: "fallback", cost: 10}
	ledger := &fakeLedger{checkErr: usage.ErrQuotaExceeded}
	g, _ := newTestGateway(primary, fallback, ledger, 100000)

	_, err := g.Invoke(context.Background(), usage.Identity{UserID: "u1"}, "hello")
	if !errors.Is(err, usage.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if primary.calls != 0 || fallback.calls != 0 {
		t.Errorf("backends called despite quota rejection (primary=%d fallback=%d)", primary.calls, fallback.calls)
	}
}

func TestGatewayFallbackCostNotInWindow(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("down")}
	fallback := &fakeBackend{name: "fallback", cost: 999999}
	ledger := &fakeLedger{}
	g, clock := newTestGateway(primary, fallback, ledger, 100000)

	ctx := context.Background()
	id := usage.Identity{UserID: "u1"}
	if _, err := g.Invoke(ctx, id, "hello"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	// The window holds only the synthetic failure cost, not the
	// fallback's reported cost.
	*clock = clock.Add(penaltyDuration + time.Second)
	primary.err = nil
	primary.cost = 1
	comp, err := g.Invoke(ctx, id, "hello")
	if err != nil {
		t.Fatalf("Invoke after penalty: %v", err)
	}
	if comp.Content != "primary says hi" {
		t.Errorf("content = %q, want primary (fallback cost must not count toward budget)", comp.Content)
	}
	if ledger.recorded != 999999+1 {
		t.Errorf("recorded usage = %d, want fallback and primary costs both on the ledger", ledger.recorded)
	}
}
