package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/plinthworks/plinth/internal/api/middleware"
	"github.com/plinthworks/plinth/internal/vectorsearch"
	"github.com/plinthworks/plinth/pkg/models"
)

func requestUserID(r *http.Request) string {
	if uc := middleware.UserFrom(r.Context()); uc != nil {
		return uc.UserID
	}
	return "anonymous"
}

// writeIngestResult picks the status for one pipeline outcome: duplicate 200,
// partial failure 207, else 201.
func writeIngestResult(w http.ResponseWriter, result *models.IngestResult) {
	switch {
	case result.Duplicate:
		middleware.WriteJSON(w, http.StatusOK, result)
	case result.PartialFailure:
		middleware.WriteJSON(w, http.StatusMultiStatus, result)
	default:
		middleware.WriteJSON(w, http.StatusCreated, result)
	}
}

// handleIngestText ingests a JSON text payload (POST /api/documents and
// POST /api/embeddings).
func (a *API) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Content == "" && req.SourceURL == "" {
		badRequest(w, "content or sourceUrl is required")
		return
	}

	result, err := a.Pipeline.IngestText(r.Context(), requestUserID(r), req)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	writeIngestResult(w, result)
}

// handleIngest dispatches on the declared MIME type through the adapter
// registry; text payloads without one fall back to the text pipeline.
func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Content == "" && req.SourceURL == "" {
		badRequest(w, "content or sourceUrl is required")
		return
	}

	userID := requestUserID(r)
	var result *models.IngestResult
	var err error
	if req.MimeType != "" {
		result, err = a.Pipeline.IngestRaw(r.Context(), userID, req.Title, req.MimeType, []byte(req.Content), req)
	} else {
		result, err = a.Pipeline.IngestText(r.Context(), userID, req)
	}
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	writeIngestResult(w, result)
}

// handleUploadDocument ingests a binary body (PDF, DOCX, image, ...) using
// the Content-Type header for adapter dispatch and x-document-title for the
// title. Admin tier.
func (a *API) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		badRequest(w, "Content-Type header is required")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		badRequest(w, "unreadable request body")
		return
	}
	if len(data) == 0 {
		badRequest(w, "empty request body")
		return
	}

	title := r.Header.Get("x-document-title")
	result, err := a.Pipeline.IngestRaw(r.Context(), requestUserID(r), title, mimeType, data, models.IngestRequest{Title: title})
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	writeIngestResult(w, result)
}

func (a *API) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, doc)
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	docs, err := a.Store.ListDocuments(r.Context(), limit, offset)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleSearch runs the model-scoped KNN query. modelId is a hard gate.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	results, err := a.Search.Search(r.Context(), vectorsearch.Query{
		Text:           q.Get("q"),
		ModelID:        q.Get("modelId"),
		Limit:          queryInt(r, "limit", vectorsearch.DefaultSearchLimit),
		IncludeExpired: q.Get("includeExpired") == "true",
	})
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleTranscribe converts an audio body to text through the transcription
// provider.
func (a *API) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.Transcriber); err != nil {
		respondGate(w, err)
		return
	}

	mimeType := r.Header.Get("Content-Type")
	audio, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil || len(audio) == 0 {
		badRequest(w, "audio body is required")
		return
	}

	transcript, err := a.Transcriber.Transcribe(r.Context(), mimeType, audio)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, transcript)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return fallback
}
