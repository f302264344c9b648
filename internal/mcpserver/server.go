// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes perthro tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/catalog"
	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/photos"
	"github.com/starford/perthro/internal/pipeline"
)

// Server wraps the MCP server with perthro tools.
type Server struct {
	mcp      *server.MCPServer
	ledger   ledger.Ledger
	pipeline *pipeline.Service
}

// New creates a new MCP server with all perthro tools registered.
func New(l ledger.Ledger, p *pipeline.Service) *Server {
	s := &Server{ledger: l, pipeline: p}

	s.mcp = server.NewMCPServer(
		"Perthro",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_artifacts",
		mcp.WithDescription("List the well-known artifacts every run extracts, with their file IDs."),
	), s.listArtifacts)

	s.mcp.AddTool(mcp.NewTool("list_labels",
		mcp.WithDescription("List the scene classification labels a photo run can select."),
	), s.listLabels)

	s.mcp.AddTool(mcp.NewTool("content_address",
		mcp.WithDescription("Compute the file ID under which a backup stores a logical path."),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Backup domain (e.g. HomeDomain, CameraRollDomain)")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the domain (e.g. Library/SMS/sms.db)")),
	), s.contentAddress)

	s.mcp.AddTool(mcp.NewTool("run_case",
		mcp.WithDescription("Extract the artifact catalog from a backup and, when a label is given, "+
			"the photos classified with it. Blocks until the run finishes. "+
			"Read perthro://run-layout for the output layout."),
		mcp.WithString("container", mcp.Required(), mcp.Description("Path to the backup container directory")),
		mcp.WithString("label", mcp.Description("Scene label selecting photos (see list_labels)")),
		mcp.WithNumber("min_confidence", mcp.Description("Minimum confidence percentage, exclusive (default 5)")),
	), s.runCase)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recorded runs, newest first."),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Get a run with its recovery status per requested photo."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
	), s.getRun)

	s.mcp.AddTool(mcp.NewTool("reconcile_run",
		mcp.WithDescription("Re-check which requested photos of a run are present."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
	), s.reconcileRun)

	s.mcp.AddTool(mcp.NewTool("archive_run",
		mcp.WithDescription("Pack the output of a run into a zip archive and report its checksums."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
	), s.archiveRun)

	s.mcp.AddTool(mcp.NewTool("add_recovered_photo",
		mcp.WithDescription("Store a requested photo that was recovered by other means so the next "+
			"reconciliation counts it."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Filename of a photo requested by the run")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Base64 content or a base64 data URI")),
	), s.addRecoveredPhoto)

	s.mcp.AddResource(
		mcp.NewResource("perthro://run-layout", "Run Layout",
			mcp.WithResourceDescription("Output directories, extraction strategies and run statuses."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRunLayoutResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listArtifacts(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(catalog.All()), nil
}

func (s *Server) listLabels(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(photos.Labels()), nil
}

func (s *Server) contentAddress(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := req.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := address.Address(domain, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(id), nil
}

func (s *Server) runCase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	container, err := req.RequireString("container")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r := pipeline.Request{Container: container}
	if label, lErr := req.RequireString("label"); lErr == nil {
		r.Label = label
	}
	if c, cErr := req.RequireInt("min_confidence"); cErr == nil {
		r.MinConfidence = &c
	}

	sum, err := s.pipeline.Run(ctx, r)
	if sum == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// A failed run is still reported; its status and detail say why.
	return jsonResult(sum), nil
}

func (s *Server) listRuns(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, total, err := s.ledger.ListRuns(0, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	return jsonResult(map[string]any{"runs": runs, "total": total}), nil
}

func (s *Server) getRun(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := s.ledger.GetRun(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	recovery, err := s.ledger.Recovery(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"run": run, "recovery": recovery}), nil
}

func (s *Server) reconcileRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.pipeline.Reconcile(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(pipeline.Describe(report)), nil
}

func (s *Server) archiveRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, d, err := s.pipeline.Archive(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"path": path, "checksum": d}), nil
}

func (s *Server) readRunLayoutResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "perthro://run-layout",
			MIMEType: "text/markdown",
			Text:     RunLayout,
		},
	}, nil
}
