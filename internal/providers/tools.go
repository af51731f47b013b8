package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/plinthworks/plinth/pkg/contracts"
)

const defaultComposioURL = "https://backend.composio.dev"

// Composio exposes third-party app actions (Gmail, Slack, GitHub) behind one
// execution API.
type Composio struct {
	apiKey string
	rest   *restClient
}

// NewComposio builds the adapter. baseURL overrides the hosted endpoint; pass
// "" for the default.
func NewComposio(apiKey, baseURL string) *Composio {
	if baseURL == "" {
		baseURL = defaultComposioURL
	}
	return &Composio{
		apiKey: apiKey,
		rest: newRESTClient("composio", baseURL, map[string]string{
			"X-API-Key": apiKey,
		}),
	}
}

func (c *Composio) Configured() bool { return c.apiKey != "" }
func (c *Composio) Name() string     { return "composio" }

// ListActions returns the actions available to the connected account.
func (c *Composio) ListActions(ctx context.Context) ([]contracts.ToolAction, error) {
	var out struct {
		Items []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			AppName     string `json:"appName"`
		} `json:"items"`
	}
	if err := c.rest.doJSON(ctx, "GET", "/api/v2/actions", nil, &out); err != nil {
		return nil, err
	}

	actions := make([]contracts.ToolAction, 0, len(out.Items))
	for _, it := range out.Items {
		actions = append(actions, contracts.ToolAction{
			Name:        it.Name,
			Description: it.Description,
			AppName:     it.AppName,
		})
	}
	return actions, nil
}

// Execute runs one action with the given parameters and returns the provider
// response payload.
func (c *Composio) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	var out struct {
		Successful bool           `json:"successfull"`
		Error      string         `json:"error"`
		Data       map[string]any `json:"data"`
	}
	path := "/api/v2/actions/" + url.PathEscape(action) + "/execute"
	err := c.rest.doJSON(ctx, "POST", path, map[string]any{"input": params}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Successful && out.Error != "" {
		return nil, fmt.Errorf("composio: action %s failed: %s", action, out.Error)
	}
	return out.Data, nil
}
