// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the sync engines as tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/noteservice"
	"github.com/double-tu/blinko-to-obsidian/internal/syncer"
)

const noteFormatURI = "blinko://note-format"

// Service is what the tools drive.
type Service interface {
	Sync(ctx context.Context) (syncer.Result, error)
	Reconcile(ctx context.Context) (noteservice.ReconcileResult, error)
	Status() noteservice.Status
	Lookup(ctx context.Context, id int64) (*noteservice.NoteDetail, error)
}

// Server wraps the MCP server with the sync tools.
type Server struct {
	mcp *server.MCPServer
	svc Service
}

// New creates a new MCP server with all tools registered.
func New(svc Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"blinko-to-obsidian",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_notes",
		mcp.WithDescription("Pull notes updated in Blinko since the last sync into the vault. "+
			"Returns the number of notes written and the journal entries produced."),
	), s.syncNotes)

	s.mcp.AddTool(mcp.NewTool("reconcile_notes",
		mcp.WithDescription("Delete vault notes whose Blinko note no longer exists, "+
			"together with their attachments. Returns the number of notes removed."),
	), s.reconcileNotes)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report the sync cursor, engine state and last results."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("lookup_note",
		mcp.WithDescription("Find the vault file of a Blinko note by id and return its content."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Blinko note id")),
	), s.lookupNote)

	s.mcp.AddResource(
		mcp.NewResource(noteFormatURI, "Materialized Note Format",
			mcp.WithResourceDescription("Layout and frontmatter of notes written by the sync."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
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

func (s *Server) syncNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Sync(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Skipped {
		return mcp.NewToolResultText("a sync pass is already running"), nil
	}
	return jsonResult(res)
}

func (s *Server) reconcileNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Reconcile(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("removed %d notes before failing: %v", res.Removed, err)), nil
	}
	if res.Skipped {
		return mcp.NewToolResultText("a reconciliation pass is already running"), nil
	}
	return jsonResult(res)
}

func (s *Server) syncStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Status())
}

func (s *Server) lookupNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireFloat("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := int64(raw)
	if id <= 0 || float64(id) != raw {
		return mcp.NewToolResultError("id must be a positive integer"), nil
	}
	note, err := s.svc.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("note %d is not in the vault", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(note)
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      noteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormat,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
