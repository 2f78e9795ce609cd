package notes

import (
	"context"
	"fmt"

	"github.com/casemesh-ai/casemesh/tool"
)

// Tools returns the save_note and search_notes executors backed by the given
// store. The matter is addressed per call via the matter_id argument, so one
// registry serves every concurrent run.
func Tools(store Store) []tool.Executor {
	return []tool.Executor{saveTool(store), searchTool(store)}
}

func saveTool(store Store) tool.Executor {
	return tool.NewFuncExecutor(
		"save_note",
		"Record a research finding on the matter for later retrieval",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"matter_id": map[string]any{"type": "string", "description": "Matter the note belongs to"},
				"content":   map[string]any{"type": "string", "description": "The finding to record"},
			},
			"required": []any{"matter_id", "content"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			matterID, _ := args["matter_id"].(string)
			content, _ := args["content"].(string)
			if content == "" {
				return nil, fmt.Errorf("content is required")
			}
			n, err := store.Add(matterID, content, nil)
			if err != nil {
				return nil, err
			}
			return map[string]any{"note_id": n.ID}, nil
		},
	)
}

func searchTool(store Store) tool.Executor {
	return tool.NewFuncExecutor(
		"search_notes",
		"Search the research notes recorded on the matter",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"matter_id": map[string]any{"type": "string", "description": "Matter to search"},
				"query":     map[string]any{"type": "string", "description": "Substring to match; empty returns all notes"},
				"limit":     map[string]any{"type": "integer", "description": "Maximum hits to return"},
			},
			"required": []any{"matter_id"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			matterID, _ := args["matter_id"].(string)
			query, _ := args["query"].(string)
			limit := 10
			if l, ok := args["limit"].(float64); ok && l > 0 {
				limit = int(l)
			}
			hits, err := store.Search(matterID, query, limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"notes": hits, "count": len(hits)}, nil
		},
	)
}
