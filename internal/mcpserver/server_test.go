package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/ledger/ledgertest"
	"github.com/starford/perthro/internal/pipeline"
	"github.com/starford/perthro/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	l := ledgertest.New(t)
	p := pipeline.NewService(l, t.TempDir(),
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return New(l, p)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" helper; call the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_artifacts":
		result, err = srv.listArtifacts(ctx, req)
	case "list_labels":
		result, err = srv.listLabels(ctx, req)
	case "content_address":
		result, err = srv.contentAddress(ctx, req)
	case "run_case":
		result, err = srv.runCase(ctx, req)
	case "list_runs":
		result, err = srv.listRuns(ctx, req)
	case "get_run":
		result, err = srv.getRun(ctx, req)
	case "reconcile_run":
		result, err = srv.reconcileRun(ctx, req)
	case "archive_run":
		result, err = srv.archiveRun(ctx, req)
	case "add_recovered_photo":
		result, err = srv.addRecoveredPhoto(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func runCase(t *testing.T, srv *Server, args map[string]interface{}) pipeline.Summary {
	t.Helper()
	r := callTool(t, srv, "run_case", args)
	if r.IsError {
		t.Fatalf("run_case: %s", resultText(r))
	}
	var sum pipeline.Summary
	if err := json.Unmarshal([]byte(resultText(r)), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return sum
}

func TestContentAddress(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "content_address", map[string]interface{}{
		"domain": "HomeDomain",
		"path":   "Library/SMS/sms.db",
	})
	if got := resultText(r); got != "3d0d7e5fb2ce288813306e4d4636395e047a3d28" {
		t.Errorf("address = %q", got)
	}

	r = callTool(t, srv, "content_address", map[string]interface{}{"domain": "HomeDomain"})
	if !r.IsError {
		t.Error("expected error for missing path")
	}
}

func TestCatalogTools(t *testing.T) {
	srv := testServer(t)
	if text := resultText(callTool(t, srv, "list_artifacts", map[string]interface{}{})); !strings.Contains(text, "sms.db") {
		t.Errorf("list_artifacts lacks sms.db: %s", text)
	}
	if text := resultText(callTool(t, srv, "list_labels", map[string]interface{}{})); !strings.Contains(text, "firearm") {
		t.Error("list_labels lacks firearm")
	}
}

func TestRunCaseAndReconcile(t *testing.T) {
	srv := testServer(t)
	root := testutil.PhotoCase(t, 4, 3, 0.7)

	sum := runCase(t, srv, map[string]interface{}{"container": root, "label": "firearm"})
	if sum.Run.Status != ledger.StatusCompleted {
		t.Errorf("status = %q (%s)", sum.Run.Status, sum.Run.Detail)
	}
	if sum.Recovery == nil || sum.Recovery.RecoveredCount != 3 {
		t.Fatalf("recovery = %+v", sum.Recovery)
	}

	r := callTool(t, srv, "get_run", map[string]interface{}{"run_id": sum.Run.ID})
	if r.IsError || !strings.Contains(resultText(r), "IMG_0003.JPG") {
		t.Errorf("get_run = %s", resultText(r))
	}

	r = callTool(t, srv, "add_recovered_photo", map[string]interface{}{
		"run_id":   sum.Run.ID,
		"filename": "IMG_0003.JPG",
		"content":  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg")),
	})
	if r.IsError {
		t.Fatalf("add_recovered_photo: %s", resultText(r))
	}

	r = callTool(t, srv, "reconcile_run", map[string]interface{}{"run_id": sum.Run.ID})
	if got := resultText(r); got != "recovered 4 of 4 photos" {
		t.Errorf("reconcile = %q", got)
	}

	r = callTool(t, srv, "archive_run", map[string]interface{}{"run_id": sum.Run.ID})
	if r.IsError || !strings.Contains(resultText(r), ".zip") {
		t.Errorf("archive_run = %s", resultText(r))
	}

	r = callTool(t, srv, "list_runs", map[string]interface{}{})
	if !strings.Contains(resultText(r), sum.Run.ID) {
		t.Errorf("list_runs lacks run: %s", resultText(r))
	}
}

func TestRunCase_MinConfidence(t *testing.T) {
	srv := testServer(t)
	root := testutil.PhotoCase(t, 2, 2, 0.5)

	sum := runCase(t, srv, map[string]interface{}{"container": root, "label": "firearm", "min_confidence": float64(60)})
	if sum.Requested != 0 {
		t.Errorf("requested = %d, want 0", sum.Requested)
	}
}

func TestRunCase_Failures(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "run_case", map[string]interface{}{"container": "/x", "label": "../etc"})
	if !r.IsError {
		t.Error("expected error for invalid label")
	}

	sum := runCase(t, srv, map[string]interface{}{"container": t.TempDir()})
	if sum.Run.Status != ledger.StatusFailed {
		t.Errorf("status = %q", sum.Run.Status)
	}
}

func TestListRuns_Empty(t *testing.T) {
	srv := testServer(t)
	if got := resultText(callTool(t, srv, "list_runs", map[string]interface{}{})); got != "no runs recorded" {
		t.Errorf("list_runs = %q", got)
	}
}

func TestGetRun_Missing(t *testing.T) {
	srv := testServer(t)
	if r := callTool(t, srv, "get_run", map[string]interface{}{"run_id": "nope"}); !r.IsError {
		t.Error("expected error for missing run")
	}
}

func TestDecodeContent(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("photo"))
	for _, in := range []string{raw, "data:image/jpeg;base64," + raw, strings.TrimRight(raw, "=")} {
		got, err := decodeContent(in)
		if err != nil || string(got) != "photo" {
			t.Errorf("decodeContent(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "data:image/jpeg,plain", "data:image/jpeg;base64", "!!"} {
		if _, err := decodeContent(in); err == nil {
			t.Errorf("decodeContent(%q) should fail", in)
		}
	}
}

func TestResourceLayout(t *testing.T) {
	srv := testServer(t)
	contents, err := srv.readRunLayoutResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("contents = %v, err = %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || !strings.Contains(tc.Text, "direct_hash") {
		t.Error("layout lacks strategies")
	}
}
