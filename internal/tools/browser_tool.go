package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/termnetdev/termnet/pkg/browser"
)

// BrowserTool exposes the shared Chrome manager to the model: navigate,
// follow links by index, go back, read page text.
type BrowserTool struct {
	mgr *browser.Manager
}

// NewBrowserTool creates the browser built-in over a shared manager.
func NewBrowserTool(mgr *browser.Manager) *BrowserTool {
	return &BrowserTool{mgr: mgr}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Browse the web: open a URL and list its interactive elements, follow a link by index, go back, or read the current page's text."
}

func (t *BrowserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "What to do",
				"enum":        []interface{}{"open", "click", "back", "read"},
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to open (for action=open)",
			},
			"link_index": map[string]interface{}{
				"type":        "integer",
				"description": "Index of the link to follow from the last element list (for action=click)",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum elements to return (default 20)",
			},
		},
		"required": []interface{}{"action"},
	}
}

// Start launches Chrome; Stop closes it. The registry drives both through
// the tool lifecycle.
func (t *BrowserTool) Start(ctx context.Context) error { return t.mgr.Start(ctx) }
func (t *BrowserTool) Stop(ctx context.Context) error  { return t.mgr.Stop(ctx) }

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	maxResults := intArg(args, "max_results", 20)

	switch action {
	case "open":
		target, _ := args["url"].(string)
		if target == "" {
			return ErrorResult("url is required for action=open")
		}
		snap, err := t.mgr.Navigate(ctx, target, maxResults)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to open %s: %v", target, err))
		}
		return SilentResult(formatSnapshot(snap))

	case "click":
		index := intArg(args, "link_index", -1)
		if index < 0 {
			return ErrorResult("link_index is required for action=click")
		}
		snap, err := t.mgr.ClickLink(ctx, index, maxResults)
		if err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult(formatSnapshot(snap))

	case "back":
		snap, err := t.mgr.Back(ctx, maxResults)
		if err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult(formatSnapshot(snap))

	case "read":
		text, err := t.mgr.PageText(ctx)
		if err != nil {
			return ErrorResult(err.Error())
		}
		if text == "" {
			return SilentResult("No readable content found on this page.")
		}
		return SilentResult(text)

	default:
		return ErrorResult(fmt.Sprintf("unknown action %q", action))
	}
}

// formatSnapshot renders a snapshot into the numbered element list the
// model navigates by.
func formatSnapshot(snap *browser.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\nURL: %s\nLinks found: %d, forms: %d\n\n",
		snap.Title, snap.URL, snap.LinkCount, snap.FormCount)

	if len(snap.Elements) == 0 {
		b.WriteString("No useful interactive elements found. Try a different URL.\n")
		return b.String()
	}

	for _, e := range snap.Elements {
		text := e.Text
		if text == "" {
			text = "(no text)"
		}
		if len(text) > 100 {
			text = text[:100]
		}
		target := e.URL
		if target == "" {
			target = e.Action
		}
		if len(target) > 60 {
			target = target[:60] + "..."
		}
		fmt.Fprintf(&b, "[%s %d] %s -> %s (score: %.2f)\n", e.Type, e.Index, text, target, e.Score)
	}

	b.WriteString("\nTo follow a link, call again with action=click and its link index. To read the page body, use action=read.\n")
	return b.String()
}

// intArg reads an integer argument; JSON numbers arrive as float64.
func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
