package providers

import (
	"context"
	"fmt"

	"github.com/plinthworks/plinth/pkg/contracts"
)

const defaultDeepgramURL = "https://api.deepgram.com"

// Deepgram is the speech-to-text adapter. Audio bytes are posted raw with
// their MIME type; the best alternative of the first channel wins.
type Deepgram struct {
	apiKey string
	rest   *restClient
}

// NewDeepgram builds the adapter. baseURL overrides the hosted endpoint; pass
// "" for the default.
func NewDeepgram(apiKey, baseURL string) *Deepgram {
	if baseURL == "" {
		baseURL = defaultDeepgramURL
	}
	return &Deepgram{
		apiKey: apiKey,
		rest: newRESTClient("deepgram", baseURL, map[string]string{
			"Authorization": "Token " + apiKey,
		}),
	}
}

func (d *Deepgram) Configured() bool { return d.apiKey != "" }
func (d *Deepgram) Name() string     { return "deepgram" }

// Transcribe converts one audio payload to text.
func (d *Deepgram) Transcribe(ctx context.Context, mimeType string, audio []byte) (*contracts.Transcript, error) {
	var out struct {
		Metadata struct {
			Duration float64 `json:"duration"`
		} `json:"metadata"`
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	path := "/v1/listen?model=nova-2&smart_format=true"
	if err := d.rest.doRaw(ctx, "POST", path, mimeType, audio, &out); err != nil {
		return nil, err
	}

	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return nil, fmt.Errorf("deepgram: empty transcription result")
	}
	best := out.Results.Channels[0].Alternatives[0]
	return &contracts.Transcript{
		Text:       best.Transcript,
		Confidence: best.Confidence,
		DurationMs: int64(out.Metadata.Duration * 1000),
	}, nil
}
