package risk

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/stats"
	"signal-trade-engine/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

// newGateFixture builds a gate whose ledger is seeded with the given
// statistics.
func newGateFixture(t *testing.T, seed domain.Statistics, limits domain.RiskLimits) (*Gate, *stats.Ledger, *Limits) {
	t.Helper()
	ctx := context.Background()

	statsStore := memory.NewStatisticsStore()
	if seed.DailyLossDate == "" {
		seed.DailyLossDate = testNow.Format("2006-01-02")
	}
	if seed.WeeklyLossKey == "" {
		year, week := testNow.ISOWeek()
		seed.WeeklyLossKey = fmt.Sprintf("%d-W%02d", year, week)
	}
	if err := statsStore.Save(ctx, &seed); err != nil {
		t.Fatalf("seed statistics: %v", err)
	}

	ledger := stats.NewLedger(stats.Options{Store: statsStore, Clock: testClock})
	if err := ledger.Load(ctx); err != nil {
		t.Fatalf("load ledger: %v", err)
	}

	holder := NewLimits(memory.NewRiskLimitsStore())
	if err := holder.Update(ctx, limits); err != nil {
		t.Fatalf("set limits: %v", err)
	}

	return NewGate(holder, ledger, testClock), ledger, holder
}

func f(v float64) *float64 { return &v }

func TestGate_AllClear(t *testing.T) {
	gate, _, _ := newGateFixture(t, domain.Statistics{}, domain.DefaultRiskLimits())

	d := gate.Evaluate(AccountState{Balance: f(1000), MarginLevel: f(500), OpenPositions: 0})
	if !d.Allowed {
		t.Fatalf("Expected allowed, got reasons: %v", d.Reasons)
	}
	if gate.Status().Locked {
		t.Error("Gate must not be locked after a clean evaluation")
	}
}

func TestGate_DailyLossLimit(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxDailyLoss = 100

	gate, _, _ := newGateFixture(t, domain.Statistics{DailyLoss: 100}, lim)

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)})
	if d.Allowed {
		t.Fatal("Expected denial")
	}
	if !strings.Contains(d.Reason(), "daily loss limit reached") {
		t.Errorf("Missing daily loss reason: %q", d.Reason())
	}
}

func TestGate_DailyLossResetUnlocks(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxDailyLoss = 100

	gate, ledger, _ := newGateFixture(t, domain.Statistics{DailyLoss: 100}, lim)

	if d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)}); d.Allowed {
		t.Fatal("Expected denial before reset")
	}

	if err := ledger.ResetDaily(context.Background()); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)})
	if !d.Allowed {
		t.Errorf("Expected allowed after reset, got: %v", d.Reasons)
	}
	if gate.Status().Locked {
		t.Error("Gate must unlock after a clean evaluation")
	}
}

func TestGate_WeeklyLossLimit(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxWeeklyLoss = 500

	gate, _, _ := newGateFixture(t, domain.Statistics{WeeklyLoss: 600}, lim)

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)})
	if d.Allowed || !strings.Contains(d.Reason(), "weekly loss limit reached") {
		t.Errorf("Expected weekly loss denial, got: %q", d.Reason())
	}
}

func TestGate_ConsecutiveLossesWithCooldown(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxConsecutiveLosses = 3
	lim.CooldownMinutes = 60

	seed := domain.Statistics{
		ConsecutiveLosses: 3,
		LastTradeTime:     testNow.Add(-30 * time.Minute).UnixMilli(),
	}
	gate, _, _ := newGateFixture(t, seed, lim)

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)})
	if d.Allowed {
		t.Fatal("Expected denial")
	}
	if !strings.Contains(d.Reason(), "too many consecutive losses: 3/3") {
		t.Errorf("Missing consecutive-loss reason: %q", d.Reason())
	}
	if !strings.Contains(d.Reason(), "cooldown active: 30 minutes remaining") {
		t.Errorf("Missing cooldown countdown: %q", d.Reason())
	}
}

func TestGate_ConsecutiveLossesNoCooldownMessageAfterWindow(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxConsecutiveLosses = 3
	lim.CooldownMinutes = 60

	seed := domain.Statistics{
		ConsecutiveLosses: 3,
		LastTradeTime:     testNow.Add(-2 * time.Hour).UnixMilli(),
	}
	gate, _, _ := newGateFixture(t, seed, lim)

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)})
	if strings.Contains(d.Reason(), "cooldown active") {
		t.Errorf("Cooldown expired, message must be absent: %q", d.Reason())
	}
}

func TestGate_DailyTradeLimit(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxDailyTrades = 10

	gate, _, _ := newGateFixture(t, domain.Statistics{TradesToday: 10}, lim)

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)})
	if d.Allowed || !strings.Contains(d.Reason(), "daily trade limit reached: 10/10") {
		t.Errorf("Expected trade-limit denial, got: %q", d.Reason())
	}
}

func TestGate_MaxOpenPositions(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxOpenPositions = 5

	gate, _, _ := newGateFixture(t, domain.Statistics{}, lim)

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500), OpenPositions: 5})
	if d.Allowed || !strings.Contains(d.Reason(), "max open positions reached: 5/5") {
		t.Errorf("Expected open-position denial, got: %q", d.Reason())
	}
}

func TestGate_BalanceRelativeLoss(t *testing.T) {
	// Spec scenario: balance=1000, loss cap by percentage
	lim := domain.DefaultRiskLimits()
	lim.MaxLossPercentage = 10

	gate, _, _ := newGateFixture(t, domain.Statistics{DailyLoss: 100}, lim)

	d := gate.Evaluate(AccountState{Balance: f(1000), MarginLevel: f(500)})
	if d.Allowed {
		t.Fatal("Expected denial: 100 loss on 1000 balance is 10%")
	}
	if !strings.Contains(d.Reason(), "daily loss exceeds 10.0% of balance") {
		t.Errorf("Missing balance-relative reason: %q", d.Reason())
	}
}

func TestGate_DrawdownLimit(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.DrawdownLimit = 15

	gate, _, _ := newGateFixture(t, domain.Statistics{PeakBalance: 1000}, lim)

	d := gate.Evaluate(AccountState{Balance: f(800), MarginLevel: f(500)})
	if d.Allowed || !strings.Contains(d.Reason(), "drawdown limit exceeded: 20.0%/15.0%") {
		t.Errorf("Expected drawdown denial, got: %q", d.Reason())
	}
}

func TestGate_MarginChecks(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MinMarginLevel = 150
	lim.AutoDeleverageThreshold = 120

	gate, _, _ := newGateFixture(t, domain.Statistics{}, lim)

	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(100)})
	if d.Allowed {
		t.Fatal("Expected denial")
	}
	if !strings.Contains(d.Reason(), "margin level too low: 100.0% < 150.0%") {
		t.Errorf("Missing margin floor reason: %q", d.Reason())
	}
	if !strings.Contains(d.Reason(), "auto-deleverage warning: 100.0% < 120.0%") {
		t.Errorf("Missing deleverage warning: %q", d.Reason())
	}
}

func TestGate_DeleverageWarningAloneDenies(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MinMarginLevel = 110
	lim.AutoDeleverageThreshold = 120

	gate, _, _ := newGateFixture(t, domain.Statistics{}, lim)

	// Above the hard floor but below the deleverage threshold
	d := gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(115)})
	if d.Allowed {
		t.Fatal("A pending deleverage must deny new entries")
	}
	if strings.Contains(d.Reason(), "margin level too low") {
		t.Errorf("Hard floor not violated, reason must be absent: %q", d.Reason())
	}
}

func TestGate_UnknownBalanceAndMarginSkipChecks(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxLossPercentage = 1
	lim.MinMarginLevel = 150

	gate, _, _ := newGateFixture(t, domain.Statistics{DailyLoss: 50, PeakBalance: 1000}, lim)

	d := gate.Evaluate(AccountState{})
	if !d.Allowed {
		t.Errorf("Unknown balance/margin must skip their checks, got: %v", d.Reasons)
	}
}

func TestGate_ReasonsInCheckOrder(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxDailyLoss = 10
	lim.MaxWeeklyLoss = 10
	lim.MaxDailyTrades = 1
	lim.MaxOpenPositions = 1
	lim.MinMarginLevel = 150

	seed := domain.Statistics{DailyLoss: 50, WeeklyLoss: 50, TradesToday: 2}
	gate, _, _ := newGateFixture(t, seed, lim)

	d := gate.Evaluate(AccountState{Balance: f(100), MarginLevel: f(100), OpenPositions: 3})
	if d.Allowed {
		t.Fatal("Expected denial")
	}

	order := []string{
		"daily loss limit",
		"weekly loss limit",
		"daily trade limit",
		"max open positions",
		"daily loss exceeds",
		"margin level too low",
	}
	pos := -1
	for _, want := range order {
		found := -1
		for i, r := range d.Reasons {
			if strings.Contains(r, want) {
				found = i
				break
			}
		}
		if found == -1 {
			t.Fatalf("Reason %q missing from %v", want, d.Reasons)
		}
		if found < pos {
			t.Errorf("Reason %q out of order in %v", want, d.Reasons)
		}
		pos = found
	}
}

func TestGate_StatusReflectsLock(t *testing.T) {
	lim := domain.DefaultRiskLimits()
	lim.MaxDailyLoss = 10

	gate, _, _ := newGateFixture(t, domain.Statistics{DailyLoss: 20}, lim)

	gate.Evaluate(AccountState{Balance: f(10000), MarginLevel: f(500)})

	st := gate.Status()
	if !st.Locked {
		t.Fatal("Status must report locked after denial")
	}
	if !strings.Contains(st.LockReason, "daily loss limit reached") {
		t.Errorf("LockReason missing: %q", st.LockReason)
	}
}
