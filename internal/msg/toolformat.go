package msg

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// toolLineFormatter renders a one-line summary of a tool invocation.
type toolLineFormatter func(f platform.Formatter, in map[string]any, shorten func(string) string) string

// toolFormatters is the registry of per-tool line formatters. Tools not
// listed fall back to a generic "🔧 Name" line.
var toolFormatters = map[string]toolLineFormatter{
	"Read": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "📖 Read " + f.InlineCode(shorten(str(in, "file_path")))
	},
	"Write": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "📝 Write " + f.InlineCode(shorten(str(in, "file_path")))
	},
	"Edit": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "✏️ Edit " + f.InlineCode(shorten(str(in, "file_path")))
	},
	"MultiEdit": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "✏️ Edit " + f.InlineCode(shorten(str(in, "file_path")))
	},
	"NotebookEdit": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "✏️ Edit " + f.InlineCode(shorten(str(in, "notebook_path")))
	},
	"Bash": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		cmd := oneLine(str(in, "command"), 120)
		if desc := str(in, "description"); desc != "" {
			return "💻 " + desc + " — " + f.InlineCode(cmd)
		}
		return "💻 " + f.InlineCode(cmd)
	},
	"Grep": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		line := "🔍 Grep " + f.InlineCode(oneLine(str(in, "pattern"), 80))
		if p := str(in, "path"); p != "" {
			line += " in " + f.InlineCode(shorten(p))
		}
		return line
	},
	"Glob": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "🔍 Glob " + f.InlineCode(str(in, "pattern"))
	},
	"WebFetch": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "🌐 Fetch " + str(in, "url")
	},
	"WebSearch": func(f platform.Formatter, in map[string]any, shorten func(string) string) string {
		return "🌐 Search " + f.InlineCode(oneLine(str(in, "query"), 80))
	},
}

// formatToolLine renders the display line for a tool_use. Detailed mode
// appends the raw input as an inline JSON snippet.
func formatToolLine(f platform.Formatter, name string, input json.RawMessage, worktreePath string, detailed bool) string {
	shorten := func(p string) string { return shortenPath(p, worktreePath) }

	var in map[string]any
	if len(input) > 0 {
		_ = json.Unmarshal(input, &in)
	}

	var line string
	if fn, ok := toolFormatters[name]; ok {
		line = fn(f, in, shorten)
	} else {
		line = "🔧 " + name
	}

	if detailed && len(input) > 0 && line == "🔧 "+name {
		line += " " + f.InlineCode(oneLine(string(input), 160))
	}
	return line
}

// shortenPath strips the session's worktree prefix so tool lines show
// repository-relative paths.
func shortenPath(p, worktreePath string) string {
	if p == "" || worktreePath == "" {
		return p
	}
	if rel, err := filepath.Rel(worktreePath, p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return p
}

func str(in map[string]any, key string) string {
	if in == nil {
		return ""
	}
	if v, ok := in[key].(string); ok {
		return v
	}
	return ""
}

// oneLine collapses whitespace and truncates with an ellipsis.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

// formatToolResultMarker renders the completion marker appended after a
// tool finishes. Durations under 3s are noise and omitted.
func formatToolResultMarker(isError bool, elapsedSecs int) string {
	var b strings.Builder
	b.WriteString("  ↳ ")
	if isError {
		b.WriteString("❌ error")
	} else {
		b.WriteString("✓")
	}
	if elapsedSecs >= 3 {
		fmt.Fprintf(&b, " (%ds)", elapsedSecs)
	}
	return b.String()
}
