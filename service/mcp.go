package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/solenne/signet/jobq"
	"github.com/solenne/signet/kit"
	"github.com/solenne/signet/recommend"
	"github.com/solenne/signet/store"
)

// RegisterMCP registers the signet tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerIngestTool(srv)
	s.registerStatusTool(srv)
	s.registerListTool(srv)
	s.registerRecommendTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// mcpUser resolves the acting user for MCP calls. The protocol carries no
// identity, so tool arguments may name one; otherwise the default applies.
func mcpUser(userID string) func(context.Context) context.Context {
	if userID == "" {
		userID = "local"
	}
	return func(ctx context.Context) context.Context {
		return kit.WithUserID(ctx, userID)
	}
}

// --- ingest ---

type mcpIngestRequest struct {
	URL       string   `json:"url"`
	Note      string   `json:"note,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
	TaskID    string   `json:"task_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
}

func (s *Service) registerIngestTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "signet_ingest",
		Description: "Save a URL as a bookmark and queue its content for extraction and embedding. Returns the bookmark and the ingestion job ID.",
		InputSchema: inputSchema(map[string]any{
			"url":        map[string]any{"type": "string", "description": "Absolute http(s) URL to save"},
			"note":       map[string]any{"type": "string", "description": "Personal note attached to the bookmark"},
			"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Tags for filtering and ranking"},
			"project_id": map[string]any{"type": "string", "description": "Project to link the bookmark to"},
			"task_id":    map[string]any{"type": "string", "description": "Task to link the bookmark to"},
			"user_id":    map[string]any{"type": "string", "description": "Acting user (default: local)"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpIngestRequest)
		if !validURL(r.URL) {
			return nil, errors.New("url must be absolute http(s)")
		}
		userID := kit.GetUserID(ctx)
		bm, err := s.store.CreateBookmark(ctx, &store.Bookmark{
			UserID: userID, URL: r.URL, Note: r.Note, Tags: r.Tags,
			ProjectID: r.ProjectID, TaskID: r.TaskID,
		})
		if err != nil {
			return nil, err
		}
		jobID, existing, err := s.queue.Enqueue(ctx, bm.ID, userID)
		if err != nil {
			return nil, err
		}
		s.events.Log(store.EventIngestQueued, userID, bm.ID, map[string]any{"job_id": jobID})
		if err := s.engine.InvalidateUser(ctx, userID); err != nil {
			s.logger.Warn("mcp: invalidate recommendations", "error", err)
		}
		return saveBookmarkResponse{Bookmark: bm, JobID: jobID, Coalesced: existing}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpIngestRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpUser(r.UserID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- status ---

type mcpStatusRequest struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "signet_job_status",
		Description: "Check the state of an ingestion job: queued, running, succeeded, failed_retryable, failed_permanent or cancelled.",
		InputSchema: inputSchema(map[string]any{
			"job_id":  map[string]any{"type": "string", "description": "Job ID returned by signet_ingest"},
			"user_id": map[string]any{"type": "string", "description": "Acting user (default: local)"},
		}, []string{"job_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpStatusRequest)
		job, err := s.queue.Get(ctx, r.JobID)
		if err != nil {
			return nil, err
		}
		if job.UserID != kit.GetUserID(ctx) {
			return nil, jobq.ErrNotFound
		}
		return map[string]any{
			"id":          job.ID,
			"bookmark_id": job.BookmarkID,
			"state":       string(job.State),
			"attempts":    job.Attempts,
			"last_error":  job.LastError,
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpStatusRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpUser(r.UserID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- list ---

type mcpListRequest struct {
	Limit  int    `json:"limit,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "signet_list",
		Description: "List saved bookmarks, newest first, with their enrichment status.",
		InputSchema: inputSchema(map[string]any{
			"limit":   map[string]any{"type": "integer", "description": "Max results (default 100)"},
			"user_id": map[string]any{"type": "string", "description": "Acting user (default: local)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpListRequest)
		return s.store.ListBookmarks(ctx, kit.GetUserID(ctx), r.Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpListRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpUser(r.UserID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- recommend ---

type mcpRecommendRequest struct {
	Type         string   `json:"type,omitempty"`
	ID           string   `json:"id,omitempty"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
}

func (s *Service) registerRecommendTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "signet_recommend",
		Description: "Recommend saved bookmarks for a working context: a project or task being worked on (type=project, task or subtask), a general request (type=general) or a diverse sampling (type=surprise).",
		InputSchema: inputSchema(map[string]any{
			"type":         map[string]any{"type": "string", "enum": []any{"project", "task", "subtask", "general", "surprise"}, "description": "Context type (default: general)"},
			"id":           map[string]any{"type": "string", "description": "Project or task ID for scoped types"},
			"title":        map[string]any{"type": "string", "description": "Context title"},
			"description":  map[string]any{"type": "string", "description": "What is being worked on"},
			"technologies": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Technologies in play, matched against bookmark tags"},
			"user_id":      map[string]any{"type": "string", "description": "Acting user (default: local)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpRecommendRequest)
		rc := &recommend.Context{
			Type:         r.Type,
			ID:           r.ID,
			Title:        r.Title,
			Description:  r.Description,
			Technologies: r.Technologies,
		}
		if rc.Type == "" {
			rc.Type = recommend.ContextGeneral
		}
		if err := validateContext(rc); err != nil {
			return nil, err
		}
		return s.engine.Recommend(ctx, kit.GetUserID(ctx), rc)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpRecommendRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpUser(r.UserID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
