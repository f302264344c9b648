package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const maxPhotoSize = 50 << 20 // 50 MB

type recoveredResult struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (s *Server) addRecoveredPhoto(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := decodeContent(content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxPhotoSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(data), maxPhotoSize)), nil
	}

	n, err := s.pipeline.AddRecoveredPhoto(runID, filename, bytes.NewReader(data))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.Marshal(recoveredResult{Filename: filename, Size: n})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeContent accepts a data:[<mediatype>];base64,<data> URI or bare base64.
func decodeContent(s string) ([]byte, error) {
	encoded := s
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("invalid data URI: missing comma separator")
		}
		if !strings.Contains(meta, ";base64") {
			return nil, fmt.Errorf("only base64 data URIs are supported")
		}
		encoded = payload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("content is empty")
	}
	return data, nil
}
