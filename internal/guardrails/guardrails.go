// Package guardrails scans LLM output before it reaches the caller. Regex
// scanners catch PII leakage, prompt-injection artifacts, executable
// payloads, and secret material; an optional semantic scanner delegates
// nuanced judgments to an LLM. Failure mode is configurable: closed (the
// default) treats an unavailable scanner as a critical finding, open lets
// the response through.
package guardrails

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/jsonx"
	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// FailureMode controls behavior when a scanner cannot run.
type FailureMode string

const (
	FailClosed FailureMode = "closed"
	FailOpen   FailureMode = "open"
)

// Finding kinds.
const (
	KindPIILeakage      = "pii_leakage"
	KindPromptInjection = "prompt_injection"
	KindCodeExecution   = "code_execution"
	KindSQLInjection    = "sql_injection"
	KindSecretLeakage   = "secret_leakage"
	KindUnavailable     = "guardrail_unavailable"
	KindSemantic        = "semantic"
)

// Scanner inspects one piece of text.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, text string) ([]models.Finding, error)
}

// Service composes scanners and applies the severity floor and failure mode.
type Service struct {
	scanners    []Scanner
	minSeverity models.Severity
	failureMode FailureMode
}

// Option configures the service.
type Option func(*Service)

// WithMinSeverity drops findings below the floor from the verdict.
func WithMinSeverity(min models.Severity) Option {
	return func(s *Service) { s.minSeverity = min }
}

// WithFailureMode sets open or closed behavior for scanner failures.
func WithFailureMode(mode FailureMode) Option {
	return func(s *Service) { s.failureMode = mode }
}

// WithSemanticScanner appends the LLM-judge scanner.
func WithSemanticScanner(llm contracts.LLMClient, model string) Option {
	return func(s *Service) {
		s.scanners = append(s.scanners, &semanticScanner{llm: llm, model: model})
	}
}

// NewService builds the scan pipeline with the built-in regex scanners plus
// any options.
func NewService(opts ...Option) *Service {
	s := &Service{
		scanners: []Scanner{
			&regexScanner{name: "pii", kind: KindPIILeakage, severity: models.SeverityHigh, patterns: piiPatterns},
			&regexScanner{name: "injection", kind: KindPromptInjection, severity: models.SeverityMedium, patterns: injectionPatterns},
			&regexScanner{name: "code-exec", kind: KindCodeExecution, severity: models.SeverityHigh, patterns: codeExecPatterns},
			&regexScanner{name: "sqli", kind: KindSQLInjection, severity: models.SeverityHigh, patterns: sqliPatterns},
			&regexScanner{name: "secrets", kind: KindSecretLeakage, severity: models.SeverityCritical, patterns: secretPatterns},
		},
		minSeverity: models.SeverityLow,
		failureMode: FailClosed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs every scanner over the text. The result fails when any finding
// at or above the severity floor remains.
func (s *Service) Scan(ctx context.Context, text string) models.ScanResult {
	start := time.Now()
	result := models.ScanResult{Passed: true}

	for _, sc := range s.scanners {
		result.ScannersRun = append(result.ScannersRun, sc.Name())
		findings, err := sc.Scan(ctx, text)
		if err != nil {
			log.Warn().Err(err).Str("scanner", sc.Name()).Msg("guardrail scanner failed")
			if s.failureMode == FailClosed {
				findings = append(findings, models.Finding{
					Scanner:  sc.Name(),
					Kind:     KindUnavailable,
					Severity: models.SeverityCritical,
					Detail:   "scanner unavailable, failing closed",
				})
			}
		}
		for _, f := range findings {
			if !models.SeverityAtLeast(f.Severity, s.minSeverity) {
				continue
			}
			result.Findings = append(result.Findings, f)
			result.Passed = false
		}
	}

	result.ScanTimeMs = time.Since(start).Milliseconds()
	return result
}

// ── regex scanners ───────────────────────────────────────────

type namedPattern struct {
	label string
	re    *regexp.Regexp
}

type regexScanner struct {
	name     string
	kind     string
	severity models.Severity
	patterns []namedPattern
}

func (r *regexScanner) Name() string { return r.name }

func (r *regexScanner) Scan(ctx context.Context, text string) ([]models.Finding, error) {
	var findings []models.Finding
	for _, p := range r.patterns {
		if p.re.MatchString(text) {
			findings = append(findings, models.Finding{
				Scanner:  r.name,
				Kind:     r.kind,
				Severity: r.severity,
				Detail:   p.label,
			})
		}
	}
	return findings, nil
}

var piiPatterns = []namedPattern{
	{"email address", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"us phone number", regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit card number", regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
}

var injectionPatterns = []namedPattern{
	{"instruction override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`)},
	{"context reset", regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`)},
	{"role hijack", regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`)},
	{"system prompt probe", regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`)},
	{"jailbreak", regexp.MustCompile(`(?i)\bjailbreak\b|\bdo\s+anything\s+now\b`)},
}

var codeExecPatterns = []namedPattern{
	{"shell command substitution", regexp.MustCompile("`[^`]*\\b(rm|curl|wget|bash|sh|nc)\\b[^`]*`")},
	{"eval call", regexp.MustCompile(`(?i)\beval\s*\(`)},
	{"os system call", regexp.MustCompile(`(?i)\b(os\.system|subprocess\.(run|call|Popen)|exec)\s*\(`)},
	{"destructive shell", regexp.MustCompile(`(?i)\brm\s+-rf\s+/`)},
}

var sqliPatterns = []namedPattern{
	{"stacked drop", regexp.MustCompile(`(?i);\s*drop\s+table`)},
	{"tautology", regexp.MustCompile(`(?i)'\s*or\s+'?1'?\s*=\s*'?1`)},
	{"union select", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"comment truncation", regexp.MustCompile(`(?i)'\s*(--|#)\s*$`)},
}

var secretPatterns = []namedPattern{
	{"openai key", regexp.MustCompile(`\bsk-[a-zA-Z0-9]{20,}\b`)},
	{"aws access key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"github token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"private key block", regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`)},
	{"bearer token", regexp.MustCompile(`(?i)\bbearer\s+[a-zA-Z0-9\-._~+/]{30,}`)},
}

// ── semantic scanner ─────────────────────────────────────────

// semanticScanner asks an LLM judge for policy violations the regex layer
// cannot see. Its failures surface as scanner errors so the service's
// failure mode decides the outcome.
type semanticScanner struct {
	llm   contracts.LLMClient
	model string
}

func (s *semanticScanner) Name() string { return "semantic" }

type semanticVerdict struct {
	Violations []struct {
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
		Detail   string `json:"detail"`
	} `json:"violations"`
}

func (s *semanticScanner) Scan(ctx context.Context, text string) ([]models.Finding, error) {
	resp, err := s.llm.Chat(ctx, contracts.ChatRequest{
		Model: s.model,
		Messages: []contracts.ChatMessage{
			{Role: "system", Content: `You are a content-safety judge. Inspect the text for harmful content, data exfiltration, or policy violations the caller should not see. Respond with JSON: {"violations": [{"kind": "...", "severity": "low|medium|high|critical", "detail": "..."}]} or {"violations": []}.`},
			{Role: "user", Content: text},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return nil, err
	}

	var verdict semanticVerdict
	if err := jsonx.Unmarshal(resp.Content, &verdict); err != nil {
		return nil, err
	}

	findings := make([]models.Finding, 0, len(verdict.Violations))
	for _, v := range verdict.Violations {
		sev := models.Severity(strings.ToLower(v.Severity))
		if !validSeverity(sev) {
			sev = models.SeverityMedium
		}
		findings = append(findings, models.Finding{
			Scanner:  s.Name(),
			Kind:     KindSemantic + ":" + v.Kind,
			Severity: sev,
			Detail:   v.Detail,
		})
	}
	return findings, nil
}

func validSeverity(s models.Severity) bool {
	switch s {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return true
	}
	return false
}
