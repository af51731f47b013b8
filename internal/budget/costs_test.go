package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallCostMatchesPricingTable(t *testing.T) {
	p := PriceFor("gpt-4o")
	want := 2000.0/1000*p.InputPer1K + 500.0/1000*p.OutputPer1K
	assert.InDelta(t, want, CallCost("gpt-4o", 2000, 500), 1e-12)
}

func TestUnknownModelUsesDefaultPricing(t *testing.T) {
	cost := CallCost("some-unreleased-model", 1000, 1000)
	def := pricingTable["default"]
	assert.InDelta(t, def.InputPer1K+def.OutputPer1K, cost, 1e-12)
	assert.Greater(t, cost, 0.0)
}

func TestLedgerTotalsAreSumOfCalls(t *testing.T) {
	l := NewCostLedger(10)

	var want float64
	want += l.RecordCall("chat", "gpt-4o", 1000, 200, 120, true)
	want += l.RecordCall("chat", "gpt-4o-mini", 500, 100, 80, true)
	want += l.RecordCall("embedder", "text-embedding-3-small", 4000, 0, 40, true)

	assert.InDelta(t, want, l.TotalCostUSD(), 1e-12)

	report := l.Costs()
	require.Len(t, report.Agents, 2)
	assert.InDelta(t, want, report.TotalCostUSD, 1e-12)
}

func TestEnsureBudgetHardCap(t *testing.T) {
	l := NewCostLedger(0.001)
	require.NoError(t, l.EnsureBudget())

	// One big call blows past the cap.
	l.RecordCall("chat", "gpt-4-turbo", 100_000, 100_000, 500, true)
	assert.ErrorIs(t, l.EnsureBudget(), ErrCostLimitExceeded)

	l.Reset()
	assert.NoError(t, l.EnsureBudget())
	assert.Zero(t, l.TotalCostUSD())
}

func TestObservabilityReport(t *testing.T) {
	l := NewCostLedger(10)
	for i := 0; i < 99; i++ {
		l.RecordCall("chat", "gpt-4o", 100, 10, int64(i+1), true)
	}
	l.RecordCall("chat", "gpt-4o", 100, 10, 1000, false)

	report := l.Observability()
	assert.Equal(t, int64(100), report.TotalCalls)
	assert.InDelta(t, 0.01, report.ErrorRate, 1e-12)
	// Ring holds the last 100 samples; p95 sits near the top of the window.
	assert.GreaterOrEqual(t, report.P95LatencyMs, int64(90))
}

func TestLedgerConcurrentRecording(t *testing.T) {
	l := NewCostLedger(1000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.RecordCall("worker", "gpt-4o-mini", 100, 100, 10, true)
			}
		}()
	}
	wg.Wait()

	report := l.Observability()
	assert.Equal(t, int64(800), report.TotalCalls)
	assert.InDelta(t, 800*CallCost("gpt-4o-mini", 100, 100), l.TotalCostUSD(), 1e-9)
}
