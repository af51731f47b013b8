package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/pkg/contracts"
)

// ErrNoTextFound is returned when every OCR tier produced nothing.
var ErrNoTextFound = errors.New("no text found in image")

// VisionOCR reads images through the zerox sidecar's vision model. Semantic
// extraction, the preferred tier.
type VisionOCR struct {
	parser *Zerox
}

// NewVisionOCR wraps the document parser for image inputs.
func NewVisionOCR(parser *Zerox) *VisionOCR {
	return &VisionOCR{parser: parser}
}

func (v *VisionOCR) Configured() bool { return v.parser != nil && v.parser.Configured() }
func (v *VisionOCR) Name() string     { return "vision-ocr" }

func (v *VisionOCR) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	return v.parser.Parse(ctx, mimeType, data)
}

// TesseractOCR shells out to the local tesseract binary. The literal-text
// fallback tier.
type TesseractOCR struct {
	enabled bool
	binary  string
}

// NewTesseractOCR builds the local OCR tier. enabled gates it without
// probing the binary at startup.
func NewTesseractOCR(enabled bool) *TesseractOCR {
	return &TesseractOCR{enabled: enabled, binary: "tesseract"}
}

func (t *TesseractOCR) Configured() bool { return t.enabled }
func (t *TesseractOCR) Name() string     { return "tesseract" }

func (t *TesseractOCR) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", ErrNoTextFound
	}
	return text, nil
}

// TieredOCR tries each configured tier in order and returns the first text.
type TieredOCR struct {
	tiers []ocrTier
}

type ocrTier interface {
	contracts.Availability
	ExtractText(ctx context.Context, mimeType string, data []byte) (string, error)
}

// NewTieredOCR composes the tiers, preferred first.
func NewTieredOCR(tiers ...ocrTier) *TieredOCR {
	return &TieredOCR{tiers: tiers}
}

func (t *TieredOCR) Configured() bool {
	for _, tier := range t.tiers {
		if tier.Configured() {
			return true
		}
	}
	return false
}

func (t *TieredOCR) Name() string { return "ocr" }

// ExtractText walks the tiers. A tier failure falls through to the next; the
// last failure is returned when none succeed.
func (t *TieredOCR) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	var lastErr error
	for _, tier := range t.tiers {
		if !tier.Configured() {
			continue
		}
		text, err := tier.ExtractText(ctx, mimeType, data)
		if err == nil && text != "" {
			return text, nil
		}
		if err != nil {
			log.Warn().Err(err).Str("tier", tier.Name()).Msg("ocr tier failed, falling through")
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrNoTextFound
}
