package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/pkg/models"
)

// PostgresStore implements Store on a PostgreSQL pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL DEFAULT '',
		source_type        TEXT NOT NULL,
		source_url         TEXT NOT NULL DEFAULT '',
		mime_type          TEXT NOT NULL DEFAULT '',
		content_hash       TEXT NOT NULL UNIQUE,
		chunk_count        INT NOT NULL DEFAULT 0,
		embedding_model_id TEXT NOT NULL DEFAULT '',
		raw_content        TEXT NOT NULL DEFAULT '',
		chunk_strategy     TEXT NOT NULL DEFAULT 'fixed',
		ingested_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		source_updated_at  TIMESTAMPTZ,
		valid_until        TIMESTAMPTZ,
		metadata           JSONB NOT NULL DEFAULT '{}',
		enrichment_status  TEXT NOT NULL DEFAULT 'pending',
		partial_failure    BOOLEAN NOT NULL DEFAULT FALSE,
		freshness_status   TEXT NOT NULL DEFAULT '',
		dedup_status       TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS prompt_versions (
		id           TEXT PRIMARY KEY,
		prompt_name  TEXT NOT NULL,
		version      TEXT NOT NULL,
		content      TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		eval_score   DOUBLE PRECISION,
		active_pct   INT NOT NULL DEFAULT 0,
		author       TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (prompt_name, version)
	);

	CREATE TABLE IF NOT EXISTS ai_generations (
		id                  TEXT PRIMARY KEY,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		user_id             TEXT NOT NULL,
		session_id          TEXT NOT NULL DEFAULT '',
		prompt_hash         TEXT NOT NULL,
		prompt_version      TEXT NOT NULL DEFAULT '',
		task_type           TEXT NOT NULL DEFAULT '',
		input_tokens        INT NOT NULL DEFAULT 0,
		response_hash       TEXT NOT NULL,
		output_tokens       INT NOT NULL DEFAULT 0,
		model               TEXT NOT NULL DEFAULT '',
		model_version       TEXT NOT NULL DEFAULT '',
		latency_ms          BIGINT NOT NULL DEFAULT 0,
		cost_usd            DOUBLE PRECISION NOT NULL DEFAULT 0,
		user_feedback       TEXT,
		feedback_at         TIMESTAMPTZ,
		thumbs              INT,
		user_edit_diff      TEXT NOT NULL DEFAULT '',
		quality_score       DOUBLE PRECISION,
		hallucination       BOOLEAN NOT NULL DEFAULT FALSE,
		guardrail_triggered TEXT[] NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_generations_user ON ai_generations (user_id, created_at);

	CREATE TABLE IF NOT EXISTS outcomes (
		id            TEXT PRIMARY KEY,
		generation_id TEXT NOT NULL REFERENCES ai_generations(id),
		user_id       TEXT NOT NULL,
		outcome_type  TEXT NOT NULL,
		outcome_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		preference_key   TEXT NOT NULL,
		preference_value JSONB NOT NULL,
		source           TEXT NOT NULL,
		confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, preference_key)
	);

	CREATE TABLE IF NOT EXISTS fewshot_entries (
		id                   TEXT PRIMARY KEY,
		task_type            TEXT NOT NULL,
		input_text           TEXT NOT NULL,
		output_text          TEXT NOT NULL,
		quality_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
		source_generation_id TEXT NOT NULL DEFAULT '',
		curated_by           TEXT NOT NULL DEFAULT 'auto',
		is_active            BOOLEAN NOT NULL DEFAULT TRUE,
		metadata             JSONB NOT NULL DEFAULT '{}',
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Pool exposes the underlying connection pool so the vector store can share
// it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Documents ────────────────────────────────────────────────

const documentColumns = `id, title, source_type, source_url, mime_type, content_hash,
	chunk_count, embedding_model_id, raw_content, chunk_strategy, ingested_at,
	source_updated_at, valid_until, metadata, enrichment_status, partial_failure,
	freshness_status, dedup_status`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.Title, &d.SourceType, &d.SourceURL, &d.MimeType,
		&d.ContentHash, &d.ChunkCount, &d.EmbeddingModelID, &d.RawContent,
		&d.ChunkStrategy, &d.IngestedAt, &d.SourceUpdatedAt, &d.ValidUntil,
		&d.Metadata, &d.EnrichmentStatus, &d.PartialFailure, &d.FreshnessStatus,
		&d.DedupStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		doc.ID, doc.Title, doc.SourceType, doc.SourceURL, doc.MimeType,
		doc.ContentHash, doc.ChunkCount, doc.EmbeddingModelID, doc.RawContent,
		doc.ChunkStrategy, doc.IngestedAt, doc.SourceUpdatedAt, doc.ValidUntil,
		doc.Metadata, doc.EnrichmentStatus, doc.PartialFailure,
		doc.FreshnessStatus, doc.DedupStatus)
	return err
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

func (s *PostgresStore) GetDocumentByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = $1`, contentHash))
}

func (s *PostgresStore) UpdateDocumentEmbedding(ctx context.Context, id string, chunkCount int, modelID string) error {
	return s.execOne(ctx,
		`UPDATE documents SET chunk_count = $2, embedding_model_id = $3 WHERE id = $1`,
		id, chunkCount, modelID)
}

func (s *PostgresStore) UpdateEnrichmentStatus(ctx context.Context, id string, status models.EnrichmentStatus) error {
	return s.execOne(ctx, `UPDATE documents SET enrichment_status = $2 WHERE id = $1`, id, status)
}

func (s *PostgresStore) UpdateDedupStatus(ctx context.Context, id, status string) error {
	return s.execOne(ctx, `UPDATE documents SET dedup_status = $2 WHERE id = $1`, id, status)
}

func (s *PostgresStore) UpdateFreshnessStatus(ctx context.Context, id, status string) error {
	return s.execOne(ctx, `UPDATE documents SET freshness_status = $2 WHERE id = $1`, id, status)
}

func (s *PostgresStore) SetPartialFailure(ctx context.Context, id string, partial bool) error {
	return s.execOne(ctx, `UPDATE documents SET partial_failure = $2 WHERE id = $1`, id, partial)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY ingested_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ── Prompt Versions ──────────────────────────────────────────

const promptColumns = `id, prompt_name, version, content, content_hash, eval_score, active_pct, author, created_at`

func scanPrompt(row pgx.Row) (*models.PromptVersion, error) {
	var v models.PromptVersion
	err := row.Scan(&v.ID, &v.PromptName, &v.Version, &v.Content, &v.ContentHash,
		&v.EvalScore, &v.ActivePct, &v.Author, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) CreatePromptVersion(ctx context.Context, v *models.PromptVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prompt_versions (`+promptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		v.ID, v.PromptName, v.Version, v.Content, v.ContentHash,
		v.EvalScore, v.ActivePct, v.Author, v.CreatedAt)
	return err
}

func (s *PostgresStore) GetPromptVersion(ctx context.Context, id string) (*models.PromptVersion, error) {
	return scanPrompt(s.pool.QueryRow(ctx,
		`SELECT `+promptColumns+` FROM prompt_versions WHERE id = $1`, id))
}

func (s *PostgresStore) ListPromptVersions(ctx context.Context, promptName string) ([]models.PromptVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+promptColumns+` FROM prompt_versions WHERE prompt_name = $1`, promptName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PromptVersion
	for rows.Next() {
		v, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Semver ordering is not lexicographic; sort in Go.
	sortPromptVersions(out)
	return out, nil
}

func sortPromptVersions(vs []models.PromptVersion) {
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && models.CompareSemver(vs[j].Version, vs[j-1].Version) < 0; j-- {
			vs[j], vs[j-1] = vs[j-1], vs[j]
		}
	}
}

func (s *PostgresStore) UpdateActivePct(ctx context.Context, id string, pct int) error {
	return s.execOne(ctx, `UPDATE prompt_versions SET active_pct = $2 WHERE id = $1`, id, pct)
}

func (s *PostgresStore) SetEvalScore(ctx context.Context, id string, score float64) error {
	return s.execOne(ctx, `UPDATE prompt_versions SET eval_score = $2 WHERE id = $1`, id, score)
}

func (s *PostgresStore) PromoteFull(ctx context.Context, id string) error {
	// Single transaction so readers never observe a sum above 100.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var name string
	err = tx.QueryRow(ctx, `SELECT prompt_name FROM prompt_versions WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE prompt_versions SET active_pct = 0 WHERE prompt_name = $1 AND id <> $2`, name, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE prompt_versions SET active_pct = 100 WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ── Generations ──────────────────────────────────────────────

const generationColumns = `id, created_at, user_id, session_id, prompt_hash, prompt_version,
	task_type, input_tokens, response_hash, output_tokens, model, model_version,
	latency_ms, cost_usd, user_feedback, feedback_at, thumbs, user_edit_diff,
	quality_score, hallucination, guardrail_triggered`

func scanGeneration(row pgx.Row) (*models.AIGeneration, error) {
	var g models.AIGeneration
	err := row.Scan(&g.ID, &g.CreatedAt, &g.UserID, &g.SessionID, &g.PromptHash,
		&g.PromptVersion, &g.TaskType, &g.InputTokens, &g.ResponseHash,
		&g.OutputTokens, &g.Model, &g.ModelVersion, &g.LatencyMs, &g.CostUSD,
		&g.UserFeedback, &g.FeedbackAt, &g.Thumbs, &g.UserEditDiff,
		&g.QualityScore, &g.Hallucination, &g.GuardrailTriggered)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) InsertGeneration(ctx context.Context, g *models.AIGeneration) error {
	if g.GuardrailTriggered == nil {
		g.GuardrailTriggered = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_generations (`+generationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		g.ID, g.CreatedAt, g.UserID, g.SessionID, g.PromptHash, g.PromptVersion,
		g.TaskType, g.InputTokens, g.ResponseHash, g.OutputTokens, g.Model,
		g.ModelVersion, g.LatencyMs, g.CostUSD, g.UserFeedback, g.FeedbackAt,
		g.Thumbs, g.UserEditDiff, g.QualityScore, g.Hallucination,
		g.GuardrailTriggered)
	return err
}

func (s *PostgresStore) GetGeneration(ctx context.Context, id string) (*models.AIGeneration, error) {
	return scanGeneration(s.pool.QueryRow(ctx,
		`SELECT `+generationColumns+` FROM ai_generations WHERE id = $1`, id))
}

func (s *PostgresStore) ListGenerations(ctx context.Context, userID string, limit, offset int) ([]models.AIGeneration, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+generationColumns+` FROM ai_generations
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGenerations(rows)
}

func (s *PostgresStore) ListGenerationsSince(ctx context.Context, userID string, since time.Time) ([]models.AIGeneration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+generationColumns+` FROM ai_generations
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGenerations(rows)
}

func collectGenerations(rows pgx.Rows) ([]models.AIGeneration, error) {
	var out []models.AIGeneration
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AttachFeedback(ctx context.Context, id string, fb models.FeedbackUpdate) (*models.AIGeneration, error) {
	// COALESCE keeps feedback_at at its first stamped value.
	row := s.pool.QueryRow(ctx, `
		UPDATE ai_generations SET
			user_feedback  = COALESCE($2, user_feedback),
			thumbs         = COALESCE($3, thumbs),
			user_edit_diff = COALESCE($4, user_edit_diff),
			feedback_at    = COALESCE(feedback_at, NOW())
		WHERE id = $1
		RETURNING `+generationColumns, id, fb.UserFeedback, fb.Thumbs, fb.UserEditDiff)
	return scanGeneration(row)
}

func (s *PostgresStore) InsertOutcome(ctx context.Context, o *models.Outcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outcomes (id, generation_id, user_id, outcome_type, outcome_value, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.GenerationID, o.UserID, o.OutcomeType, o.OutcomeValue, o.CreatedAt)
	return err
}

func (s *PostgresStore) ListFeedbackUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM ai_generations WHERE user_feedback IS NOT NULL ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ── Preferences ──────────────────────────────────────────────

const preferenceColumns = `id, user_id, preference_key, preference_value, source, confidence, created_at, updated_at`

func scanPreference(row pgx.Row) (*models.UserPreference, error) {
	var p models.UserPreference
	err := row.Scan(&p.ID, &p.UserID, &p.PreferenceKey, &p.PreferenceValue,
		&p.Source, &p.Confidence, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPreference(ctx context.Context, userID, key string) (*models.UserPreference, error) {
	return scanPreference(s.pool.QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM user_preferences WHERE user_id = $1 AND preference_key = $2`,
		userID, key))
}

func (s *PostgresStore) ListPreferences(ctx context.Context, userID string) ([]models.UserPreference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+preferenceColumns+` FROM user_preferences WHERE user_id = $1 ORDER BY preference_key`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertPreference(ctx context.Context, p *models.UserPreference) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preferences (`+preferenceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id, preference_key) DO UPDATE SET
			preference_value = EXCLUDED.preference_value,
			source           = EXCLUDED.source,
			confidence       = EXCLUDED.confidence,
			updated_at       = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.PreferenceKey, p.PreferenceValue, p.Source,
		p.Confidence, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) DeletePreference(ctx context.Context, userID, key string) error {
	return s.execOne(ctx,
		`DELETE FROM user_preferences WHERE user_id = $1 AND preference_key = $2`, userID, key)
}

// ── Few-Shot Entries ─────────────────────────────────────────

func (s *PostgresStore) InsertFewShot(ctx context.Context, e *models.FewShotEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fewshot_entries (id, task_type, input_text, output_text, quality_score,
			source_generation_id, curated_by, is_active, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.TaskType, e.InputText, e.OutputText, e.QualityScore,
		e.SourceGenerationID, e.CuratedBy, e.IsActive, e.Metadata, e.CreatedAt)
	return err
}

func (s *PostgresStore) ListFewShot(ctx context.Context, taskType string, activeOnly bool) ([]models.FewShotEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_type, input_text, output_text, quality_score,
			source_generation_id, curated_by, is_active, metadata, created_at
		FROM fewshot_entries
		WHERE ($1 = '' OR task_type = $1) AND (NOT $2 OR is_active)
		ORDER BY quality_score DESC`, taskType, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FewShotEntry
	for rows.Next() {
		var e models.FewShotEntry
		if err := rows.Scan(&e.ID, &e.TaskType, &e.InputText, &e.OutputText,
			&e.QualityScore, &e.SourceGenerationID, &e.CuratedBy, &e.IsActive,
			&e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
