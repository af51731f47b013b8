package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// Input is the raw material handed to a modality adapter.
type Input struct {
	Title    string
	MimeType string
	Data     []byte
	Text     string
	URL      string
	Metadata map[string]any
}

// Parsed is the normalized output of a modality adapter.
type Parsed struct {
	Text        string
	SourceType  models.SourceType
	MimeType    string
	ContentHash string
	Metadata    map[string]any
	RawSource   string
}

// Ingester converts one modality into canonical text. Returns nil when the
// input is unsupported.
type Ingester interface {
	Parse(ctx context.Context, in Input) (*Parsed, error)
}

// HashText returns the hex SHA-256 of the canonical (trimmed) text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// Registry maps MIME types to adapters. Lookup tries an exact match first,
// then the major type ("image/*").
type Registry struct {
	exact  map[string]Ingester
	prefix map[string]Ingester
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:  make(map[string]Ingester),
		prefix: make(map[string]Ingester),
	}
}

// Register binds an adapter to a MIME type. A type ending in "/*" registers
// the whole major type.
func (r *Registry) Register(mimeType string, ing Ingester) {
	if major, ok := strings.CutSuffix(mimeType, "/*"); ok {
		r.prefix[major] = ing
		return
	}
	r.exact[mimeType] = ing
}

// Lookup returns the adapter for a MIME type, or nil when unsupported.
func (r *Registry) Lookup(mimeType string) Ingester {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if ing, ok := r.exact[mimeType]; ok {
		return ing
	}
	if major, _, ok := strings.Cut(mimeType, "/"); ok {
		if ing, ok := r.prefix[major]; ok {
			return ing
		}
	}
	return nil
}

// DefaultRegistry wires every modality adapter the configured collaborators
// support. Nil collaborators leave their modalities unregistered.
func DefaultRegistry(parser contracts.DocParser, ocr contracts.OCRProvider, stt contracts.TranscriptionProvider, scraper contracts.Scraper) *Registry {
	r := NewRegistry()
	text := &TextIngester{}
	r.Register("text/plain", text)
	r.Register("text/markdown", text)
	if parser != nil {
		doc := &DocIngester{parser: parser}
		r.Register("application/pdf", doc)
		r.Register("application/vnd.openxmlformats-officedocument.wordprocessingml.document", doc)
	}
	structured := &StructuredIngester{}
	r.Register("text/csv", structured)
	r.Register("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", structured)
	r.Register("application/json", &APIFeedIngester{})
	if ocr != nil {
		r.Register("image/*", &ImageIngester{ocr: ocr})
	}
	if stt != nil {
		r.Register("audio/*", &AudioIngester{stt: stt})
	}
	if scraper != nil {
		r.Register("text/uri-list", &URLIngester{scraper: scraper})
	}
	return r
}

// ── Plain text / markdown ────────────────────────────────────

type TextIngester struct{}

func (t *TextIngester) Parse(ctx context.Context, in Input) (*Parsed, error) {
	text := in.Text
	if text == "" {
		text = string(in.Data)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return &Parsed{
		Text:        text,
		SourceType:  models.SourceDocument,
		MimeType:    in.MimeType,
		ContentHash: HashText(text),
		Metadata:    in.Metadata,
	}, nil
}

// ── PDF / DOCX via external parser ───────────────────────────

type DocIngester struct {
	parser contracts.DocParser
}

func (d *DocIngester) Parse(ctx context.Context, in Input) (*Parsed, error) {
	if len(in.Data) == 0 {
		return nil, nil
	}
	text, err := d.parser.Parse(ctx, in.MimeType, in.Data)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return &Parsed{
		Text:        text,
		SourceType:  models.SourceDocument,
		MimeType:    in.MimeType,
		ContentHash: HashText(text),
		Metadata:    in.Metadata,
	}, nil
}

// ── CSV / XLSX structured rows ───────────────────────────────

// StructuredIngester renders tabular rows into one line per record:
// "col: val | col: val". Rows with identical identifier values collapse.
type StructuredIngester struct{}

func (s *StructuredIngester) Parse(ctx context.Context, in Input) (*Parsed, error) {
	raw := in.Text
	if raw == "" {
		raw = string(in.Data)
	}
	reader := csv.NewReader(strings.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	rows = DedupEntities(rows, identifierColumns(header))

	var sb strings.Builder
	for _, row := range rows {
		parts := make([]string, 0, len(header))
		for _, col := range header {
			parts = append(parts, col+": "+row[col])
		}
		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteString("\n")
	}

	text := sb.String()
	meta := cloneMeta(in.Metadata)
	meta["rowCount"] = len(rows)
	return &Parsed{
		Text:        text,
		SourceType:  models.SourceCSV,
		MimeType:    in.MimeType,
		ContentHash: HashText(text),
		Metadata:    meta,
		RawSource:   raw,
	}, nil
}

// identifierColumns picks the declared identifier set for entity dedup:
// any column named id / *_id, else the full column set.
func identifierColumns(header []string) []string {
	var ids []string
	for _, col := range header {
		lower := strings.ToLower(col)
		if lower == "id" || strings.HasSuffix(lower, "_id") {
			ids = append(ids, col)
		}
	}
	if len(ids) == 0 {
		return header
	}
	return ids
}

// ── Images: tiered OCR ───────────────────────────────────────

type ImageIngester struct {
	ocr contracts.OCRProvider
}

func (i *ImageIngester) Parse(ctx context.Context, in Input) (*Parsed, error) {
	if len(in.Data) == 0 {
		return nil, nil
	}
	text, err := i.ocr.ExtractText(ctx, in.MimeType, in.Data)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return &Parsed{
		Text:        text,
		SourceType:  models.SourceImage,
		MimeType:    in.MimeType,
		ContentHash: HashText(text),
		Metadata:    in.Metadata,
	}, nil
}

// ── Audio: external transcription ────────────────────────────

type AudioIngester struct {
	stt contracts.TranscriptionProvider
}

func (a *AudioIngester) Parse(ctx context.Context, in Input) (*Parsed, error) {
	if len(in.Data) == 0 {
		return nil, nil
	}
	transcript, err := a.stt.Transcribe(ctx, in.MimeType, in.Data)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return nil, nil
	}
	meta := cloneMeta(in.Metadata)
	meta["confidence"] = transcript.Confidence
	return &Parsed{
		Text:        transcript.Text,
		SourceType:  models.SourceAudio,
		MimeType:    in.MimeType,
		ContentHash: HashText(transcript.Text),
		Metadata:    meta,
	}, nil
}

// ── URLs: external scrape ────────────────────────────────────

type URLIngester struct {
	scraper contracts.Scraper
}

func (u *URLIngester) Parse(ctx context.Context, in Input) (*Parsed, error) {
	if in.URL == "" {
		return nil, nil
	}
	markdown, err := u.scraper.Scrape(ctx, in.URL)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", in.URL, err)
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}
	meta := cloneMeta(in.Metadata)
	meta["sourceUrl"] = in.URL
	return &Parsed{
		Text:        markdown,
		SourceType:  models.SourceWeb,
		MimeType:    "text/markdown",
		ContentHash: HashText(markdown),
		Metadata:    meta,
	}, nil
}

// ── Generic JSON API feeds ───────────────────────────────────

// APIFeedIngester serializes a JSON array of records into one line per
// record with stable key order, deduplicating by identifier fields.
type APIFeedIngester struct{}

func (a *APIFeedIngester) Parse(ctx context.Context, in Input) (*Parsed, error) {
	raw := in.Text
	if raw == "" {
		raw = string(in.Data)
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		// Accept a single object as a one-record feed.
		var one map[string]any
		if err2 := json.Unmarshal([]byte(raw), &one); err2 != nil {
			return nil, fmt.Errorf("parse api feed: %w", err)
		}
		records = []map[string]any{one}
	}
	if len(records) == 0 {
		return nil, nil
	}

	stringRows := make([]map[string]string, len(records))
	for i, rec := range records {
		row := make(map[string]string, len(rec))
		for k, v := range rec {
			row[k] = fmt.Sprint(v)
		}
		stringRows[i] = row
	}
	keys := collectKeys(records)
	stringRows = DedupEntities(stringRows, identifierColumns(keys))

	var sb strings.Builder
	for _, row := range stringRows {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if v, ok := row[k]; ok {
				parts = append(parts, k+": "+v)
			}
		}
		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteString("\n")
	}

	text := sb.String()
	meta := cloneMeta(in.Metadata)
	meta["recordCount"] = len(stringRows)
	return &Parsed{
		Text:        text,
		SourceType:  models.SourceAPI,
		MimeType:    "application/json",
		ContentHash: HashText(text),
		Metadata:    meta,
		RawSource:   raw,
	}, nil
}

func collectKeys(records []map[string]any) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
