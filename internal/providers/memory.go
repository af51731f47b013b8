package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/plinthworks/plinth/pkg/contracts"
)

const defaultMem0URL = "https://api.mem0.ai"

// Mem0 is the hosted long-term memory adapter. A zero API key leaves the
// adapter unconfigured.
type Mem0 struct {
	apiKey string
	rest   *restClient
}

// NewMem0 builds the adapter. baseURL overrides the hosted endpoint; pass ""
// for the default.
func NewMem0(apiKey, baseURL string) *Mem0 {
	if baseURL == "" {
		baseURL = defaultMem0URL
	}
	return &Mem0{
		apiKey: apiKey,
		rest: newRESTClient("mem0", baseURL, map[string]string{
			"Authorization": "Token " + apiKey,
		}),
	}
}

func (m *Mem0) Configured() bool { return m.apiKey != "" }
func (m *Mem0) Name() string     { return "mem0" }

type mem0Memory struct {
	ID       string         `json:"id"`
	Memory   string         `json:"memory"`
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

func (r mem0Memory) entry() contracts.MemoryEntry {
	return contracts.MemoryEntry{
		ID:       r.ID,
		UserID:   r.UserID,
		Content:  r.Memory,
		Metadata: r.Metadata,
		Score:    r.Score,
	}
}

// Add stores one memory for the user.
func (m *Mem0) Add(ctx context.Context, userID, content string, metadata map[string]any) (*contracts.MemoryEntry, error) {
	payload := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": content}},
		"user_id":  userID,
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}

	var out []mem0Memory
	if err := m.rest.doJSON(ctx, "POST", "/v1/memories/", payload, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		// The API may defer extraction; echo the input back.
		return &contracts.MemoryEntry{UserID: userID, Content: content, Metadata: metadata}, nil
	}
	entry := out[0].entry()
	if entry.UserID == "" {
		entry.UserID = userID
	}
	return &entry, nil
}

// Search runs semantic retrieval over the user's memories.
func (m *Mem0) Search(ctx context.Context, userID, query string, limit int) ([]contracts.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []mem0Memory
	err := m.rest.doJSON(ctx, "POST", "/v1/memories/search/", map[string]any{
		"query":   query,
		"user_id": userID,
		"limit":   limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	return mem0Entries(out), nil
}

// GetAll lists every memory held for the user.
func (m *Mem0) GetAll(ctx context.Context, userID string) ([]contracts.MemoryEntry, error) {
	var out []mem0Memory
	path := "/v1/memories/?user_id=" + url.QueryEscape(userID)
	if err := m.rest.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return mem0Entries(out), nil
}

// Delete removes one memory by id.
func (m *Mem0) Delete(ctx context.Context, id string) error {
	return m.rest.doJSON(ctx, "DELETE", "/v1/memories/"+url.PathEscape(id)+"/", nil, nil)
}

func mem0Entries(rows []mem0Memory) []contracts.MemoryEntry {
	entries := make([]contracts.MemoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries
}

const defaultZepURL = "https://api.getzep.com"

// Zep is the graph-memory alternative to Mem0. It keeps the same capability
// surface; the wiring layer picks whichever has a key.
type Zep struct {
	apiKey string
	rest   *restClient
}

// NewZep builds the adapter. baseURL overrides the hosted endpoint; pass ""
// for the default.
func NewZep(apiKey, baseURL string) *Zep {
	if baseURL == "" {
		baseURL = defaultZepURL
	}
	return &Zep{
		apiKey: apiKey,
		rest: newRESTClient("zep", baseURL, map[string]string{
			"Authorization": "Api-Key " + apiKey,
		}),
	}
}

func (z *Zep) Configured() bool { return z.apiKey != "" }
func (z *Zep) Name() string     { return "zep" }

type zepFact struct {
	UUID     string         `json:"uuid"`
	Fact     string         `json:"fact"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Add appends a message to the user's graph; Zep extracts facts on its side.
func (z *Zep) Add(ctx context.Context, userID, content string, metadata map[string]any) (*contracts.MemoryEntry, error) {
	payload := map[string]any{
		"user_id": userID,
		"type":    "text",
		"data":    content,
	}
	var out struct {
		UUID string `json:"uuid"`
	}
	if err := z.rest.doJSON(ctx, "POST", "/api/v2/graph", payload, &out); err != nil {
		return nil, err
	}
	return &contracts.MemoryEntry{ID: out.UUID, UserID: userID, Content: content, Metadata: metadata}, nil
}

// Search queries the user's graph for relevant facts.
func (z *Zep) Search(ctx context.Context, userID, query string, limit int) ([]contracts.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var out struct {
		Edges []zepFact `json:"edges"`
	}
	err := z.rest.doJSON(ctx, "POST", "/api/v2/graph/search", map[string]any{
		"user_id": userID,
		"query":   query,
		"limit":   limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	return zepEntries(userID, out.Edges), nil
}

// GetAll lists the user's stored facts.
func (z *Zep) GetAll(ctx context.Context, userID string) ([]contracts.MemoryEntry, error) {
	var out struct {
		Edges []zepFact `json:"edges"`
	}
	path := fmt.Sprintf("/api/v2/graph/edges/user/%s?limit=200", url.PathEscape(userID))
	if err := z.rest.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return zepEntries(userID, out.Edges), nil
}

// Delete removes one fact edge by uuid.
func (z *Zep) Delete(ctx context.Context, id string) error {
	return z.rest.doJSON(ctx, "DELETE", "/api/v2/graph/edges/"+url.PathEscape(id), nil, nil)
}

func zepEntries(userID string, facts []zepFact) []contracts.MemoryEntry {
	entries := make([]contracts.MemoryEntry, 0, len(facts))
	for _, f := range facts {
		entries = append(entries, contracts.MemoryEntry{
			ID:       f.UUID,
			UserID:   userID,
			Content:  f.Fact,
			Metadata: f.Metadata,
			Score:    f.Score,
		})
	}
	return entries
}
