// Package providers holds the adapters for external capability services:
// long-term memory, tool execution, fine-tuning, transcription, scraping,
// parsing, OCR, and bot verification. Every adapter reports availability;
// the gate decides what an unconfigured capability means.
package providers

import (
	"errors"
	"fmt"

	"github.com/plinthworks/plinth/pkg/contracts"
)

// Mode is the unconfigured-provider policy.
type Mode string

const (
	// ModeOpen treats an unconfigured provider as disabled: callers get a
	// soft "not enabled" answer. The development default.
	ModeOpen Mode = "open"

	// ModeStrict treats an unconfigured provider as an outage: callers get a
	// hard unavailability error. The production default.
	ModeStrict Mode = "strict"
)

// ErrNotConfigured is the strict-mode refusal (maps to 503).
var ErrNotConfigured = errors.New("provider not configured")

// ErrDisabled is the open-mode soft answer (maps to 200 with enabled=false).
var ErrDisabled = errors.New("provider disabled")

// Gate applies the unconfigured-provider policy.
type Gate struct {
	mode Mode
}

// NewGate creates the policy gate.
func NewGate(mode Mode) *Gate {
	if mode != ModeStrict {
		mode = ModeOpen
	}
	return &Gate{mode: mode}
}

// Check returns nil when the provider is usable, ErrDisabled in open mode,
// and ErrNotConfigured in strict mode.
func (g *Gate) Check(av contracts.Availability) error {
	if av != nil && av.Configured() {
		return nil
	}
	name := "unknown"
	if av != nil {
		name = av.Name()
	}
	if g.mode == ModeStrict {
		return fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return fmt.Errorf("%w: %s", ErrDisabled, name)
}

// Mode reports the active policy.
func (g *Gate) Mode() Mode { return g.mode }
