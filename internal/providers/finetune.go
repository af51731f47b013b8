package providers

import (
	"context"
	"net/url"

	"github.com/plinthworks/plinth/pkg/contracts"
)

const defaultOpenPipeURL = "https://api.openpipe.ai/api/v1"

// OpenPipe collects accepted completions as training data and drives
// fine-tune runs from them.
type OpenPipe struct {
	apiKey string
	rest   *restClient
}

// NewOpenPipe builds the adapter. baseURL overrides the hosted endpoint; pass
// "" for the default.
func NewOpenPipe(apiKey, baseURL string) *OpenPipe {
	if baseURL == "" {
		baseURL = defaultOpenPipeURL
	}
	return &OpenPipe{
		apiKey: apiKey,
		rest: newRESTClient("openpipe", baseURL, map[string]string{
			"Authorization": "Bearer " + apiKey,
		}),
	}
}

func (o *OpenPipe) Configured() bool { return o.apiKey != "" }
func (o *OpenPipe) Name() string     { return "openpipe" }

// LogCompletion reports one request/response pair for dataset capture.
func (o *OpenPipe) LogCompletion(ctx context.Context, payload map[string]any) error {
	return o.rest.doJSON(ctx, "POST", "/report", payload, nil)
}

type openPipeJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Model  string `json:"model"`
}

func (j openPipeJob) job() *contracts.FineTuneJob {
	return &contracts.FineTuneJob{ID: j.ID, Status: j.Status, Model: j.Model}
}

// Trigger starts a fine-tune run from the captured dataset.
func (o *OpenPipe) Trigger(ctx context.Context, baseModel string, params map[string]any) (*contracts.FineTuneJob, error) {
	payload := map[string]any{"baseModel": baseModel}
	for k, v := range params {
		payload[k] = v
	}
	var out openPipeJob
	if err := o.rest.doJSON(ctx, "POST", "/fine-tunes", payload, &out); err != nil {
		return nil, err
	}
	return out.job(), nil
}

// Status fetches the state of one fine-tune run.
func (o *OpenPipe) Status(ctx context.Context, jobID string) (*contracts.FineTuneJob, error) {
	var out openPipeJob
	if err := o.rest.doJSON(ctx, "GET", "/fine-tunes/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return out.job(), nil
}
