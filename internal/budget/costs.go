package budget

import (
	"errors"
	"sort"
	"sync"
)

// ErrCostLimitExceeded halts further LLM calls until the ledger is reset.
var ErrCostLimitExceeded = errors.New("cost limit exceeded")

// DefaultMaxCostUSD is the process-wide hard cap.
const DefaultMaxCostUSD = 10.0

const latencyRingCap = 100

// ModelPricing is USD per 1K tokens.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// pricingTable maps model id → pricing. Unknown models fall back to
// "default", never to zero cost.
var pricingTable = map[string]ModelPricing{
	"gpt-4o":                 {InputPer1K: 0.005, OutputPer1K: 0.015},
	"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4-turbo":            {InputPer1K: 0.01, OutputPer1K: 0.03},
	"claude-3-5-sonnet":      {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-haiku":         {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"text-embedding-3-small": {InputPer1K: 0.00002, OutputPer1K: 0},
	"text-embedding-3-large": {InputPer1K: 0.00013, OutputPer1K: 0},
	"default":                {InputPer1K: 0.002, OutputPer1K: 0.006},
}

// PriceFor returns the pricing for a model, falling back to default.
func PriceFor(model string) ModelPricing {
	if p, ok := pricingTable[model]; ok {
		return p
	}
	return pricingTable["default"]
}

// CallCost computes the USD cost of one call from the pricing table.
func CallCost(model string, inputTokens, outputTokens int) float64 {
	p := PriceFor(model)
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}

// agentStats aggregates per-agent accounting.
type agentStats struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	CallCount    int64
	SuccessCount int64
	FailCount    int64
	latencies    []int64 // ring, cap latencyRingCap
	latencyNext  int
}

func (a *agentStats) recordLatency(ms int64) {
	if len(a.latencies) < latencyRingCap {
		a.latencies = append(a.latencies, ms)
		return
	}
	a.latencies[a.latencyNext] = ms
	a.latencyNext = (a.latencyNext + 1) % latencyRingCap
}

func (a *agentStats) p95Latency() int64 {
	if len(a.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(a.latencies))
	copy(sorted, a.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted) * 95) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CostLedger is the process-local cost accountant. Safe for parallel
// mutation; readers may lag writers by at most one recorded call.
type CostLedger struct {
	mu      sync.Mutex
	agents  map[string]*agentStats
	total   agentStats
	maxCost float64
}

// NewCostLedger creates a ledger with the given hard cap (≤0 → default $10).
func NewCostLedger(maxCostUSD float64) *CostLedger {
	if maxCostUSD <= 0 {
		maxCostUSD = DefaultMaxCostUSD
	}
	return &CostLedger{
		agents:  make(map[string]*agentStats),
		maxCost: maxCostUSD,
	}
}

// RecordCall accounts one LLM call against an agent and the process totals.
// Returns the computed cost of the call.
func (l *CostLedger) RecordCall(agent, model string, inputTokens, outputTokens int, latencyMs int64, success bool) float64 {
	cost := CallCost(model, inputTokens, outputTokens)

	l.mu.Lock()
	defer l.mu.Unlock()

	stats, ok := l.agents[agent]
	if !ok {
		stats = &agentStats{}
		l.agents[agent] = stats
	}
	for _, s := range []*agentStats{stats, &l.total} {
		s.InputTokens += int64(inputTokens)
		s.OutputTokens += int64(outputTokens)
		s.CostUSD += cost
		s.CallCount++
		if success {
			s.SuccessCount++
		} else {
			s.FailCount++
		}
		s.recordLatency(latencyMs)
	}
	return cost
}

// EnsureBudget returns ErrCostLimitExceeded once the process total reaches
// the hard cap.
func (l *CostLedger) EnsureBudget() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.total.CostUSD >= l.maxCost {
		return ErrCostLimitExceeded
	}
	return nil
}

// TotalCostUSD returns the accumulated process cost.
func (l *CostLedger) TotalCostUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total.CostUSD
}

// Reset clears all accounting; used by the admin reset endpoint.
func (l *CostLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.agents = make(map[string]*agentStats)
	l.total = agentStats{}
}

// AgentCost is the cost-only view of one agent.
type AgentCost struct {
	Agent        string  `json:"agent"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// CostReport is the cost-only report.
type CostReport struct {
	TotalCostUSD float64     `json:"totalCostUsd"`
	MaxCostUSD   float64     `json:"maxCostUsd"`
	Agents       []AgentCost `json:"agents"`
}

// Costs returns the cost-only view.
func (l *CostLedger) Costs() CostReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := CostReport{
		TotalCostUSD: l.total.CostUSD,
		MaxCostUSD:   l.maxCost,
	}
	for name, s := range l.agents {
		report.Agents = append(report.Agents, AgentCost{
			Agent:        name,
			InputTokens:  s.InputTokens,
			OutputTokens: s.OutputTokens,
			CostUSD:      s.CostUSD,
		})
	}
	sort.Slice(report.Agents, func(i, j int) bool { return report.Agents[i].Agent < report.Agents[j].Agent })
	return report
}

// AgentObservability is the operational view of one agent.
type AgentObservability struct {
	Agent        string  `json:"agent"`
	CallCount    int64   `json:"callCount"`
	SuccessCount int64   `json:"successCount"`
	FailCount    int64   `json:"failCount"`
	ErrorRate    float64 `json:"errorRate"`
	P95LatencyMs int64   `json:"p95LatencyMs"`
}

// ObservabilityReport is the call-count/error-rate/latency view.
type ObservabilityReport struct {
	TotalCalls   int64                `json:"totalCalls"`
	ErrorRate    float64              `json:"errorRate"`
	P95LatencyMs int64                `json:"p95LatencyMs"`
	Agents       []AgentObservability `json:"agents"`
}

// Observability returns the operational view.
func (l *CostLedger) Observability() ObservabilityReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := ObservabilityReport{
		TotalCalls:   l.total.CallCount,
		ErrorRate:    errorRate(&l.total),
		P95LatencyMs: l.total.p95Latency(),
	}
	for name, s := range l.agents {
		report.Agents = append(report.Agents, AgentObservability{
			Agent:        name,
			CallCount:    s.CallCount,
			SuccessCount: s.SuccessCount,
			FailCount:    s.FailCount,
			ErrorRate:    errorRate(s),
			P95LatencyMs: s.p95Latency(),
		})
	}
	sort.Slice(report.Agents, func(i, j int) bool { return report.Agents[i].Agent < report.Agents[j].Agent })
	return report
}

func errorRate(s *agentStats) float64 {
	if s.CallCount == 0 {
		return 0
	}
	return float64(s.FailCount) / float64(s.CallCount)
}
