package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/murmurhq/murmur/internal/catalog"
)

// maxFileBytes caps how much of a file is returned to the pipeline.
const maxFileBytes = 64 * 1024

func readFileTool(workspace string) *catalog.Tool {
	return &catalog.Tool{
		Name:        "read_file",
		Description: "Read a text file from the agent workspace. Paths are relative to the workspace root; access outside it is refused.",
		Relevance:   "read file contents, open document, look inside a file in the workspace",
		Schema: catalog.Schema{
			Required: []string{"path"},
			Properties: map[string]catalog.Property{
				"path": {
					Type:        "string",
					Description: "Path relative to the workspace root.",
				},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			rel, _ := args["path"].(string)
			return readWorkspaceFile(workspace, rel)
		},
	}
}

func readWorkspaceFile(workspace, rel string) (*catalog.Result, error) {
	if rel == "" {
		return nil, fmt.Errorf("path is required")
	}

	abs, err := filepath.Abs(filepath.Join(workspace, rel))
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	root, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	// Containment check after resolution so ../ escapes are refused.
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return &catalog.Result{
			Advice: "Only files inside the agent workspace can be read.",
		}, fmt.Errorf("path %q escapes the workspace", rel)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return &catalog.Result{
				Advice: "The file does not exist; check the spelling or list the directory first.",
			}, fmt.Errorf("read %s: %w", rel, err)
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	result := &catalog.Result{}
	if len(data) > maxFileBytes {
		result.Data = string(data[:maxFileBytes])
		result.Advice = "The file was truncated; ask about a specific section if detail is missing."
	} else {
		result.Data = string(data)
	}
	return result, nil
}
