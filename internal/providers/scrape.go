package providers

import (
	"context"
	"fmt"
)

// Crawl4AI fetches a page through the self-hosted crawl service and returns
// fit markdown. An empty base URL leaves the adapter unconfigured.
type Crawl4AI struct {
	baseURL string
	rest    *restClient
}

// NewCrawl4AI builds the scraper against the crawl service root.
func NewCrawl4AI(baseURL string) *Crawl4AI {
	return &Crawl4AI{
		baseURL: baseURL,
		rest:    newRESTClient("crawl4ai", baseURL, nil),
	}
}

func (c *Crawl4AI) Configured() bool { return c.baseURL != "" }
func (c *Crawl4AI) Name() string     { return "crawl4ai" }

// Scrape returns the page rendered as markdown.
func (c *Crawl4AI) Scrape(ctx context.Context, pageURL string) (string, error) {
	var out struct {
		Markdown string `json:"markdown"`
		Success  bool   `json:"success"`
		Error    string `json:"error_message"`
	}
	err := c.rest.doJSON(ctx, "POST", "/md", map[string]any{
		"url": pageURL,
		"f":   "fit",
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("crawl4ai: %s: %s", pageURL, out.Error)
	}
	if out.Markdown == "" {
		return "", fmt.Errorf("crawl4ai: %s: empty page", pageURL)
	}
	return out.Markdown, nil
}
