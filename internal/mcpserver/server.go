// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Clipshelf tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/clipservice"
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/store"
	"github.com/starford/clipshelf/internal/uploader"
)

const filterGuideURI = "clipshelf://filter-guide"

// Server wraps the MCP server with Clipshelf tools.
type Server struct {
	mcp     *server.MCPServer
	clips   *clipservice.Service
	uploads *uploader.Service
	fetch   fetchFunc
}

// New creates a new MCP server with all Clipshelf tools registered.
// uploads may be nil, in which case publishing tools are not offered.
func New(clips *clipservice.Service, uploads *uploader.Service) *Server {
	s := &Server{clips: clips, uploads: uploads, fetch: fetchHTTP}

	s.mcp = server.NewMCPServer(
		"Clipshelf",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_clips",
		mcp.WithDescription("Search archived clips by creation date, tags and publication servers. "+
			"Read the filter guide (get_filter_guide or the clipshelf://filter-guide resource) for exact semantics."),
		mcp.WithString("from", mcp.Description("Only clips created after this day (YYYY-MM-DD)")),
		mcp.WithString("to", mcp.Description("Only clips created on or before this day (YYYY-MM-DD)")),
		mcp.WithString("tags", mcp.Description("Comma separated tag names; a clip matches if it has any of them")),
		mcp.WithString("servers", mcp.Description("Comma separated server ids; a clip matches if it was published to any of them")),
		mcp.WithBoolean("group", mcp.Description("Group results by creation day")),
	), s.searchClips)

	s.mcp.AddTool(mcp.NewTool("get_clip",
		mcp.WithDescription("Read the metadata of one clip, including tags and where it was published."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Clip id")),
	), s.getClip)

	s.mcp.AddTool(mcp.NewTool("update_clip",
		mcp.WithDescription("Replace the description and the full tag set of a clip."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Clip id")),
		mcp.WithString("description", mcp.Description("New description (empty clears it)")),
		mcp.WithString("tags", mcp.Description("Comma separated tag names replacing the current set")),
	), s.updateClip)

	s.mcp.AddTool(mcp.NewTool("remove_clip",
		mcp.WithDescription("Delete a clip and its payload. Unknown ids are not an error."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Clip id")),
	), s.removeClip)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag in the directory."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("ingest_clip",
		mcp.WithDescription("Archive a file or image from an http(s) URL or a base64 data URI."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("filename", mcp.Description("Name to store the clip under")),
		mcp.WithString("tags", mcp.Description("Comma separated tag names")),
		mcp.WithString("description", mcp.Description("Clip description")),
	), s.ingestClip)

	s.mcp.AddTool(mcp.NewTool("get_filter_guide",
		mcp.WithDescription("Returns how search filters combine. Call this before building non-trivial searches."),
	), s.getFilterGuide)

	if uploads != nil {
		s.mcp.AddTool(mcp.NewTool("upload_clip",
			mcp.WithDescription("Publish a clip to a configured upload server and return its public URL."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Clip id")),
			mcp.WithNumber("server_id", mcp.Required(), mcp.Description("Server id")),
		), s.uploadClip)
	}

	s.mcp.AddResource(
		mcp.NewResource(filterGuideURI, "Search Filter Guide",
			mcp.WithResourceDescription("How date, tag, server and image filters combine."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFilterGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func criteriaFrom(req mcp.CallToolRequest) (store.Criteria, error) {
	var c store.Criteria
	for _, f := range []struct {
		key string
		dst **time.Time
	}{{"from", &c.DateFrom}, {"to", &c.DateTo}} {
		raw := strings.TrimSpace(req.GetString(f.key, ""))
		if raw == "" {
			continue
		}
		d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
		if err != nil {
			return c, fmt.Errorf("%s must be YYYY-MM-DD", f.key)
		}
		*f.dst = &d
	}
	c.TagNames = clipservice.NormalizeTags(splitCSV(req.GetString("tags", "")))
	for _, raw := range splitCSV(req.GetString("servers", "")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c, fmt.Errorf("bad server id %q", raw)
		}
		c.ServerIDs = append(c.ServerIDs, id)
	}
	return c, c.Validate()
}

func (s *Server) searchClips(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := criteriaFrom(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetBool("group", false) {
		groups, err := s.clips.SearchAndGroup(ctx, c)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(groups)
	}
	clips, err := s.clips.Search(ctx, c)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(clips)
}

type clipDetail struct {
	models.Clip
	Uploads []models.Upload `json:"uploads,omitempty"`
}

func (s *Server) getClip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	clip, err := s.clips.FindByID(ctx, int64(id))
	if err != nil {
		return toolError(err), nil
	}
	detail := clipDetail{Clip: *clip}
	if s.uploads != nil {
		if detail.Uploads, err = s.uploads.UploadsOf(ctx, clip.ID); err != nil {
			return toolError(err), nil
		}
	}
	return jsonResult(detail)
}

func (s *Server) updateClip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	err = s.clips.Update(ctx, models.Clip{
		ID:          int64(id),
		Description: strings.TrimSpace(req.GetString("description", "")),
		Tags:        clipservice.NormalizeTags(splitCSV(req.GetString("tags", ""))),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %d", id)), nil
}

func (s *Server) removeClip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.clips.Remove(ctx, int64(id)); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed: %d", id)), nil
}

func (s *Server) listTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.clips.Tags(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if len(tags) == 0 {
		return mcp.NewToolResultText("no tags"), nil
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) uploadClip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	serverID, err := req.RequireInt("server_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.uploads.UploadClip(ctx, int64(id), int64(serverID))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(rec)
}

func (s *Server) getFilterGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(FilterGuide), nil
}

func (s *Server) readFilterGuideResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      filterGuideURI,
			MIMEType: "text/markdown",
			Text:     FilterGuide,
		},
	}, nil
}
