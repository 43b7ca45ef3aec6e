package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solenne/signet/jobq"
	"github.com/solenne/signet/kit"
	"github.com/solenne/signet/recommend"
	"github.com/solenne/signet/store"
)

// Router builds the HTTP surface.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withUser)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/bookmarks", s.handleSaveBookmark)
		r.Post("/ingest", s.handleIngest)
		r.Get("/bookmarks", s.handleListBookmarks)
		r.Get("/bookmarks/{id}", s.handleGetBookmark)
		r.Delete("/bookmarks/{id}", s.handleDeleteBookmark)
		r.Post("/bookmarks/{id}/reingest", s.handleReingest)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Get("/recommendations", s.handleRecommend)
		r.Put("/keys", s.handleSetKey)
	})
	return r
}

// withUser resolves the acting user from the X-User-ID header. Single-user
// deployments omit it and get the default identity.
func (s *Service) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User-ID")
		if user == "" {
			user = "local"
		}
		ctx := kit.WithUserID(r.Context(), user)
		ctx = kit.WithTransport(ctx, "http")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type saveBookmarkRequest struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Note        string   `json:"note,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	TaskID      string   `json:"task_id,omitempty"`
}

type saveBookmarkResponse struct {
	Bookmark *store.Bookmark `json:"bookmark"`
	JobID    string          `json:"job_id"`
	// Coalesced is true when a live ingestion job already covered this
	// bookmark and no new one was created.
	Coalesced bool `json:"coalesced,omitempty"`
}

// handleSaveBookmark creates (or re-saves) a bookmark and queues its
// ingestion. Responds 202: enrichment happens in the background.
func (s *Service) handleSaveBookmark(w http.ResponseWriter, r *http.Request) {
	var req saveBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.saveAndQueue(w, r, &req)
}

func (s *Service) saveAndQueue(w http.ResponseWriter, r *http.Request, req *saveBookmarkRequest) {
	if !validURL(req.URL) {
		s.writeError(w, http.StatusBadRequest, "url must be absolute http(s)")
		return
	}
	ctx := r.Context()
	userID := kit.GetUserID(ctx)

	bm, err := s.store.CreateBookmark(ctx, &store.Bookmark{
		UserID:      userID,
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
		Note:        req.Note,
		Tags:        req.Tags,
		ProjectID:   req.ProjectID,
		TaskID:      req.TaskID,
	})
	if err != nil {
		s.serverError(w, "create bookmark", err)
		return
	}

	jobID, existing, err := s.queue.Enqueue(ctx, bm.ID, userID)
	if err != nil {
		s.serverError(w, "enqueue", err)
		return
	}
	s.events.Log(store.EventIngestQueued, userID, bm.ID, map[string]any{"job_id": jobID})
	if err := s.engine.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("http: invalidate recommendations", "error", err)
	}

	s.writeJSON(w, http.StatusAccepted, saveBookmarkResponse{
		Bookmark: bm, JobID: jobID, Coalesced: existing,
	})
}

func (s *Service) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.store.ListBookmarks(r.Context(), kit.GetUserID(r.Context()), limit)
	if err != nil {
		s.serverError(w, "list bookmarks", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bookmarks": list})
}

type bookmarkDetail struct {
	*store.Bookmark
	Extraction *store.Extraction `json:"extraction,omitempty"`
}

func (s *Service) handleGetBookmark(w http.ResponseWriter, r *http.Request) {
	bm, ok := s.ownedBookmark(w, r)
	if !ok {
		return
	}
	detail := bookmarkDetail{Bookmark: bm}
	ext, err := s.store.GetExtraction(r.Context(), bm.ID)
	if err == nil {
		detail.Extraction = ext
	} else if !errors.Is(err, store.ErrExtractionNotFound) {
		s.serverError(w, "get extraction", err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// handleDeleteBookmark removes the bookmark, cancels any pending job and
// drops the user's cached recommendations. A job already running notices
// the deletion itself at its next stage boundary.
func (s *Service) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	bm, ok := s.ownedBookmark(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := s.queue.Cancel(ctx, bm.ID); err != nil {
		s.serverError(w, "cancel job", err)
		return
	}
	if err := s.store.DeleteBookmark(ctx, bm.ID); err != nil {
		s.serverError(w, "delete bookmark", err)
		return
	}
	if err := s.engine.InvalidateUser(ctx, bm.UserID); err != nil {
		s.logger.Warn("http: invalidate recommendations", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReingest queues a fresh ingestion for an existing bookmark.
func (s *Service) handleReingest(w http.ResponseWriter, r *http.Request) {
	bm, ok := s.ownedBookmark(w, r)
	if !ok {
		return
	}
	jobID, existing, err := s.queue.Enqueue(r.Context(), bm.ID, bm.UserID)
	if err != nil {
		s.serverError(w, "enqueue", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "coalesced": existing})
}

func (s *Service) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobq.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.serverError(w, "get job", err)
		return
	}
	if job.UserID != kit.GetUserID(r.Context()) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":          job.ID,
		"bookmark_id": job.BookmarkID,
		"state":       string(job.State),
		"attempts":    job.Attempts,
		"last_error":  job.LastError,
		"updated_at":  job.UpdatedAt,
	})
}

// handleIngest queues ingestion for an existing bookmark named by
// bookmark_id, or saves and queues a new URL when none is given.
func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		saveBookmarkRequest
		BookmarkID string `json:"bookmark_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.BookmarkID == "" {
		s.saveAndQueue(w, r, &req.saveBookmarkRequest)
		return
	}
	ctx := r.Context()
	bm, err := s.store.GetBookmark(ctx, req.BookmarkID)
	if errors.Is(err, store.ErrBookmarkNotFound) {
		s.writeError(w, http.StatusNotFound, "bookmark not found")
		return
	}
	if err != nil {
		s.serverError(w, "get bookmark", err)
		return
	}
	if bm.UserID != kit.GetUserID(ctx) {
		s.writeError(w, http.StatusNotFound, "bookmark not found")
		return
	}
	jobID, existing, err := s.queue.Enqueue(ctx, bm.ID, bm.UserID)
	if err != nil {
		s.serverError(w, "enqueue", err)
		return
	}
	s.events.Log(store.EventIngestQueued, bm.UserID, bm.ID, map[string]any{"job_id": jobID})
	s.writeJSON(w, http.StatusAccepted, saveBookmarkResponse{
		Bookmark: bm, JobID: jobID, Coalesced: existing,
	})
}

// handleRecommend serves ranked bookmarks for a working context given in
// query parameters: type, id, title, description, technologies (comma
// separated).
func (s *Service) handleRecommend(w http.ResponseWriter, r *http.Request) {
	rc, err := recommendContextFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.engine.Recommend(r.Context(), kit.GetUserID(r.Context()), rc)
	if err != nil {
		s.serverError(w, "recommend", err)
		return
	}
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

// recommendContextFromQuery parses and validates the recommendation
// context. Scoped types need an id; general and surprise must not name one.
func recommendContextFromQuery(r *http.Request) (*recommend.Context, error) {
	q := r.URL.Query()
	rc := &recommend.Context{
		Type:        q.Get("type"),
		ID:          q.Get("id"),
		Title:       q.Get("title"),
		Description: q.Get("description"),
	}
	if rc.Type == "" {
		rc.Type = recommend.ContextGeneral
	}
	// q is shorthand for a free-text title on general requests.
	if rc.Title == "" {
		rc.Title = q.Get("q")
	}
	if techs := q.Get("technologies"); techs != "" {
		for _, t := range strings.Split(techs, ",") {
			if t = strings.TrimSpace(t); t != "" {
				rc.Technologies = append(rc.Technologies, t)
			}
		}
	}
	return rc, validateContext(rc)
}

func validateContext(rc *recommend.Context) error {
	switch rc.Type {
	case recommend.ContextProject, recommend.ContextTask, recommend.ContextSubtask:
		if rc.ID == "" {
			return fmt.Errorf("id required for type=%s", rc.Type)
		}
	case recommend.ContextGeneral, recommend.ContextSurprise:
	default:
		return fmt.Errorf("unknown context type %q", rc.Type)
	}
	return nil
}

type setKeyRequest struct {
	APIKey string `json:"api_key"`
}

// handleSetKey stores the user's own embedding API key. Empty removes it.
func (s *Service) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var req setKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.store.SetUserKey(r.Context(), kit.GetUserID(r.Context()), req.APIKey); err != nil {
		s.serverError(w, "set key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.serverError(w, "queue depth", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queue_depth": depth})
}

// ownedBookmark loads the {id} bookmark and hides other users' rows behind
// a 404.
func (s *Service) ownedBookmark(w http.ResponseWriter, r *http.Request) (*store.Bookmark, bool) {
	bm, err := s.store.GetBookmark(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrBookmarkNotFound) {
		s.writeError(w, http.StatusNotFound, "bookmark not found")
		return nil, false
	}
	if err != nil {
		s.serverError(w, "get bookmark", err)
		return nil, false
	}
	if bm.UserID != kit.GetUserID(r.Context()) {
		s.writeError(w, http.StatusNotFound, "bookmark not found")
		return nil, false
	}
	return bm, true
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("http: encode response", "error", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("http: "+op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func validURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
