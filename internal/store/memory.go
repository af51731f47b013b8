package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/plinthworks/plinth/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and zero-config
// development runs. All maps are guarded by a single RWMutex; operations
// copy entities on the way in and out so callers never share state.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   map[string]*models.Document
	docByHash   map[string]string // contentHash → document id
	prompts     map[string]*models.PromptVersion
	generations map[string]*models.AIGeneration
	genOrder    []string // insertion order for listing
	outcomes    map[string]*models.Outcome
	preferences map[string]*models.UserPreference // userID|key
	fewshots    map[string]*models.FewShotEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:   make(map[string]*models.Document),
		docByHash:   make(map[string]string),
		prompts:     make(map[string]*models.PromptVersion),
		generations: make(map[string]*models.AIGeneration),
		outcomes:    make(map[string]*models.Outcome),
		preferences: make(map[string]*models.UserPreference),
		fewshots:    make(map[string]*models.FewShotEntry),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

// ── Documents ────────────────────────────────────────────────

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return ErrDuplicate
	}
	if _, exists := s.docByHash[doc.ContentHash]; exists {
		return ErrDuplicate
	}
	cp := *doc
	s.documents[doc.ID] = &cp
	s.docByHash[doc.ContentHash] = doc.ID
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) GetDocumentByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.docByHash[contentHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.documents[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateDocumentEmbedding(ctx context.Context, id string, chunkCount int, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.ChunkCount = chunkCount
	doc.EmbeddingModelID = modelID
	return nil
}

func (s *MemoryStore) UpdateEnrichmentStatus(ctx context.Context, id string, status models.EnrichmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.EnrichmentStatus = status
	return nil
}

func (s *MemoryStore) UpdateDedupStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.DedupStatus = status
	return nil
}

func (s *MemoryStore) UpdateFreshnessStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.FreshnessStatus = status
	return nil
}

func (s *MemoryStore) SetPartialFailure(ctx context.Context, id string, partial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.PartialFailure = partial
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]models.Document, 0, len(s.documents))
	for _, d := range s.documents {
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].IngestedAt.After(all[j].IngestedAt) })
	return paginate(all, limit, offset), nil
}

// ── Prompt Versions ──────────────────────────────────────────

func (s *MemoryStore) CreatePromptVersion(ctx context.Context, v *models.PromptVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.prompts {
		if existing.PromptName == v.PromptName && existing.Version == v.Version {
			return ErrDuplicate
		}
	}
	cp := *v
	s.prompts[v.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPromptVersion(ctx context.Context, id string) (*models.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListPromptVersions(ctx context.Context, promptName string) ([]models.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PromptVersion
	for _, v := range s.prompts {
		if v.PromptName == promptName {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return models.CompareSemver(out[i].Version, out[j].Version) < 0
	})
	return out, nil
}

func (s *MemoryStore) UpdateActivePct(ctx context.Context, id string, pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prompts[id]
	if !ok {
		return ErrNotFound
	}
	v.ActivePct = pct
	return nil
}

func (s *MemoryStore) SetEvalScore(ctx context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prompts[id]
	if !ok {
		return ErrNotFound
	}
	v.EvalScore = &score
	return nil
}

func (s *MemoryStore) PromoteFull(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.prompts[id]
	if !ok {
		return ErrNotFound
	}
	for _, v := range s.prompts {
		if v.PromptName == target.PromptName && v.ID != id {
			v.ActivePct = 0
		}
	}
	target.ActivePct = 100
	return nil
}

// ── Generations ──────────────────────────────────────────────

func (s *MemoryStore) InsertGeneration(ctx context.Context, g *models.AIGeneration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.generations[g.ID]; exists {
		return ErrDuplicate
	}
	cp := *g
	s.generations[g.ID] = &cp
	s.genOrder = append(s.genOrder, g.ID)
	return nil
}

func (s *MemoryStore) GetGeneration(ctx context.Context, id string) (*models.AIGeneration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) ListGenerations(ctx context.Context, userID string, limit, offset int) ([]models.AIGeneration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AIGeneration
	for i := len(s.genOrder) - 1; i >= 0; i-- {
		g := s.generations[s.genOrder[i]]
		if userID == "" || g.UserID == userID {
			out = append(out, *g)
		}
	}
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) ListGenerationsSince(ctx context.Context, userID string, since time.Time) ([]models.AIGeneration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AIGeneration
	for _, id := range s.genOrder {
		g := s.generations[id]
		if g.UserID == userID && !g.CreatedAt.Before(since) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *MemoryStore) AttachFeedback(ctx context.Context, id string, fb models.FeedbackUpdate) (*models.AIGeneration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if fb.UserFeedback != nil {
		g.UserFeedback = fb.UserFeedback
	}
	if fb.Thumbs != nil {
		g.Thumbs = fb.Thumbs
	}
	if fb.UserEditDiff != nil {
		g.UserEditDiff = *fb.UserEditDiff
	}
	if g.FeedbackAt == nil {
		now := time.Now().UTC()
		g.FeedbackAt = &now
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) InsertOutcome(ctx context.Context, o *models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.outcomes[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListFeedbackUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range s.genOrder {
		g := s.generations[id]
		if g.UserFeedback != nil && !seen[g.UserID] {
			seen[g.UserID] = true
			out = append(out, g.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ── Preferences ──────────────────────────────────────────────

func prefKey(userID, key string) string { return userID + "|" + key }

func (s *MemoryStore) GetPreference(ctx context.Context, userID, key string) (*models.UserPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[prefKey(userID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPreferences(ctx context.Context, userID string) ([]models.UserPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.UserPreference
	for k, p := range s.preferences {
		if strings.HasPrefix(k, userID+"|") {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PreferenceKey < out[j].PreferenceKey })
	return out, nil
}

func (s *MemoryStore) UpsertPreference(ctx context.Context, p *models.UserPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	k := prefKey(p.UserID, p.PreferenceKey)
	if existing, ok := s.preferences[k]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.preferences[k] = &cp
	return nil
}

func (s *MemoryStore) DeletePreference(ctx context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := prefKey(userID, key)
	if _, ok := s.preferences[k]; !ok {
		return ErrNotFound
	}
	delete(s.preferences, k)
	return nil
}

// ── Few-Shot Entries ─────────────────────────────────────────

func (s *MemoryStore) InsertFewShot(ctx context.Context, e *models.FewShotEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.fewshots[e.ID] = &cp
	return nil
}

func (s *MemoryStore) ListFewShot(ctx context.Context, taskType string, activeOnly bool) ([]models.FewShotEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FewShotEntry
	for _, e := range s.fewshots {
		if taskType != "" && e.TaskType != taskType {
			continue
		}
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
