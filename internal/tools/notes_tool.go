package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/termnetdev/termnet/internal/notes"
)

// SaveNoteTool persists a note to the full-text store.
type SaveNoteTool struct {
	store *notes.Store
}

func NewSaveNoteTool(store *notes.Store) *SaveNoteTool {
	return &SaveNoteTool{store: store}
}

func (t *SaveNoteTool) Name() string { return "save_note" }

func (t *SaveNoteTool) Description() string {
	return "Save a note for later retrieval. Notes are full-text searchable."
}

func (t *SaveNoteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The note content",
			},
			"tags": map[string]interface{}{
				"type":        "string",
				"description": "Optional comma-separated tags",
			},
		},
		"required": []interface{}{"text"},
	}
}

func (t *SaveNoteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	text, _ := args["text"].(string)
	tags, _ := args["tags"].(string)

	n, err := t.store.Save(text, tags)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(fmt.Sprintf("Note %s saved.", n.ID))
}

// SearchNotesTool runs a full-text query over stored notes.
type SearchNotesTool struct {
	store *notes.Store
}

func NewSearchNotesTool(store *notes.Store) *SearchNotesTool {
	return &SearchNotesTool{store: store}
}

func (t *SearchNotesTool) Name() string { return "search_notes" }

func (t *SearchNotesTool) Description() string {
	return "Search saved notes by full-text query, ranked by relevance."
}

func (t *SearchNotesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Full-text search query",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum results (default 10)",
			},
		},
		"required": []interface{}{"query"},
	}
}

func (t *SearchNotesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query must not be empty")
	}

	results, err := t.store.Search(query, intArg(args, "max_results", 10))
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err))
	}
	if len(results) == 0 {
		return SilentResult("No notes matched.")
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. (%.2f) %s", i+1, r.Score, r.Snippet)
		if r.Note.Tags != "" {
			fmt.Fprintf(&b, " [tags: %s]", r.Note.Tags)
		}
		b.WriteString("\n")
	}
	return SilentResult(b.String())
}
