package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Zerox extracts text from binary documents (PDF, DOCX) through the zerox
// sidecar, which rasterizes pages and reads them with a vision model.
type Zerox struct {
	baseURL string
	model   string
	rest    *restClient
}

// NewZerox builds the parser against the sidecar root. model names the vision
// model the sidecar should use; pass "" for its default.
func NewZerox(baseURL, model string) *Zerox {
	return &Zerox{
		baseURL: baseURL,
		model:   model,
		rest:    newRESTClient("zerox", baseURL, nil),
	}
}

func (z *Zerox) Configured() bool { return z.baseURL != "" }
func (z *Zerox) Name() string     { return "zerox" }

// Parse converts one document payload to plain text.
func (z *Zerox) Parse(ctx context.Context, mimeType string, data []byte) (string, error) {
	payload := map[string]any{
		"mimeType": mimeType,
		"data":     base64.StdEncoding.EncodeToString(data),
	}
	if z.model != "" {
		payload["model"] = z.model
	}

	var out struct {
		Pages []struct {
			Content string `json:"content"`
		} `json:"pages"`
		Text string `json:"text"`
	}
	if err := z.rest.doJSON(ctx, "POST", "/parse", payload, &out); err != nil {
		return "", err
	}

	if out.Text != "" {
		return out.Text, nil
	}
	parts := make([]string, 0, len(out.Pages))
	for _, p := range out.Pages {
		if p.Content != "" {
			parts = append(parts, p.Content)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("zerox: no text extracted (%s)", mimeType)
	}
	return strings.Join(parts, "\n\n"), nil
}
