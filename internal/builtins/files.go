// Package builtins implements the agent loop's default tool set: file
// read/write, shell execution, and HTTP request/web search, each tool
// self-contained and registered through the same tools.Tool interface.
package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentcore/engine/internal/tools"
	"github.com/agentcore/engine/pkg/models"
)

const defaultMaxReadBytes = 200_000

// ReadFileTool reads a file from the turn's working directory with an
// optional byte offset and cap.
type ReadFileTool struct {
	maxReadBytes int
}

func NewReadFileTool() *ReadFileTool { return &ReadFileTool{maxReadBytes: defaultMaxReadBytes} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a file from the working directory with an optional offset and byte limit."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to the file, relative to the working directory."},
			"offset": {"type": "integer", "minimum": 0, "description": "Byte offset to start reading from."},
			"max_bytes": {"type": "integer", "minimum": 0, "description": "Maximum bytes to read, capped by the tool default."}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage, execCtx tools.ExecutionContext) (*models.ToolResult, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	res := resolver{root: execCtx.WorkDir}
	path, err := res.resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	defer f.Close()

	if input.Offset > 0 {
		if _, err := f.Seek(input.Offset, io.SeekStart); err != nil {
			return toolError(err.Error()), nil
		}
	}

	limit := t.maxReadBytes
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}
	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return toolError(err.Error()), nil
	}
	return &models.ToolResult{Content: string(buf[:n])}, nil
}

// WriteFileTool writes (creating or overwriting) a file under the working
// directory, confined to that root by the same resolver ReadFileTool uses.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool { return &WriteFileTool{} }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file under the working directory, creating parent directories as needed."
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to the file, relative to the working directory."},
			"content": {"type": "string", "description": "Content to write."},
			"append": {"type": "boolean", "description": "Append instead of overwrite."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage, execCtx tools.ExecutionContext) (*models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	res := resolver{root: execCtx.WorkDir}
	path, err := res.resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return toolError(err.Error()), nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if input.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return toolError(err.Error()), nil
	}
	defer f.Close()

	if _, err := f.WriteString(input.Content); err != nil {
		return toolError(err.Error()), nil
	}
	return &models.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(input.Content), input.Path)}, nil
}

func toolError(msg string) *models.ToolResult {
	return &models.ToolResult{Content: msg, IsError: true}
}
