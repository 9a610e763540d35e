// Package msg implements the per-session streaming pipeline: transforming
// agent events into message operations and executing them against a chat
// platform under post-size, ordering, and sticky constraints.
package msg

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// BreakType classifies a logical break point in buffered content.
type BreakType int

const (
	BreakNone BreakType = iota
	BreakToolMarker
	BreakHeading
	BreakCodeBlockEnd
	BreakParagraph
	BreakLine
)

func (b BreakType) String() string {
	switch b {
	case BreakToolMarker:
		return "tool_marker"
	case BreakHeading:
		return "heading"
	case BreakCodeBlockEnd:
		return "code_block_end"
	case BreakParagraph:
		return "paragraph"
	case BreakLine:
		return "line"
	default:
		return "none"
	}
}

// Breakpoint is a position where content may be split across posts.
// Pos is the byte offset at which the second part starts.
type Breakpoint struct {
	Pos  int
	Type BreakType
}

// CodeBlockState reports whether a position sits inside a fenced code
// block, where the fence opened, and its language tag.
type CodeBlockState struct {
	Inside   bool
	OpenPos  int
	Language string
}

const (
	// maxBufferedLines triggers an early flush regardless of byte count.
	maxBufferedLines = 15

	// assumed rendered line metrics for height estimation
	lineHeightPx    = 21
	headingHeightPx = 34
	codeLinePx      = 19
	blankLinePx     = 10
	wrapColumns     = 90
)

// GetCodeBlockState scans fences from the start of text up to pos and
// reports whether pos is inside an open fenced block.
func GetCodeBlockState(text string, pos int) CodeBlockState {
	if pos > len(text) {
		pos = len(text)
	}
	st := CodeBlockState{OpenPos: -1}
	offset := 0
	for offset <= pos {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var line string
		next := len(text) + 1
		if lineEnd >= 0 {
			line = text[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		} else {
			line = text[offset:]
		}
		if offset >= pos {
			break
		}
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "```") {
			if st.Inside {
				st = CodeBlockState{OpenPos: -1}
			} else {
				st.Inside = true
				st.OpenPos = offset
				st.Language = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			}
		}
		if next > len(text) {
			break
		}
		offset = next
	}
	return st
}

// isToolMarkerLine reports whether a line is a tool-result marker
// ("  ↳ ✓ ..." or "  ↳ ❌ ...").
func isToolMarkerLine(line string) bool {
	t := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(t, "↳ ") {
		return false
	}
	rest := strings.TrimPrefix(t, "↳ ")
	return strings.HasPrefix(rest, "✓") || strings.HasPrefix(rest, "❌")
}

func isHeadingLine(line string) bool {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	return i > 0 && i <= 6 && i < len(line) && line[i] == ' '
}

// FindLogicalBreakpoint finds the best split point in text at or after
// startPos, looking at most maxLookAhead bytes ahead. Priority:
// tool-result marker > heading > code-block close > paragraph > line.
// Inside an open fence only a code-block close is accepted. Returns nil
// when no acceptable break exists in the window.
func FindLogicalBreakpoint(text string, startPos, maxLookAhead int) *Breakpoint {
	if startPos < 0 {
		startPos = 0
	}
	end := startPos + maxLookAhead
	if end > len(text) {
		end = len(text)
	}
	if startPos >= end {
		return nil
	}

	// Latest candidate per type within the window; later breaks pack the
	// current post fuller.
	best := map[BreakType]int{}

	// Align to the start of the line containing startPos so the fence
	// scan below sees whole lines.
	offset := 0
	if i := strings.LastIndexByte(text[:startPos], '\n'); i >= 0 {
		offset = i + 1
	}
	inFence := GetCodeBlockState(text, offset).Inside

	for offset < end {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var line string
		next := len(text)
		hasNL := false
		if lineEnd >= 0 {
			line = text[offset : offset+lineEnd]
			next = offset + lineEnd + 1
			hasNL = true
		} else {
			line = text[offset:]
		}

		trimmed := strings.TrimLeft(line, " \t")
		isFence := strings.HasPrefix(trimmed, "```")

		switch {
		case isFence && inFence:
			// Split after the closing fence line.
			if hasNL && next >= startPos && next <= end {
				best[BreakCodeBlockEnd] = next
			}
			inFence = false
		case isFence && !inFence:
			inFence = true
		case inFence:
			// No breaks inside a fenced block.
		case isToolMarkerLine(line):
			if hasNL && next >= startPos && next <= end {
				best[BreakToolMarker] = next
			}
		case isHeadingLine(trimmed) && offset >= startPos && offset > 0:
			best[BreakHeading] = offset
		case line == "" && hasNL:
			// Blank line: paragraph break, second part starts after it.
			if next >= startPos && next <= end {
				best[BreakParagraph] = next
			}
		default:
			if hasNL && next >= startPos && next <= end {
				best[BreakLine] = next
			}
		}

		if !hasNL {
			break
		}
		offset = next
	}

	for _, ty := range []BreakType{BreakToolMarker, BreakHeading, BreakCodeBlockEnd, BreakParagraph, BreakLine} {
		if pos, ok := best[ty]; ok && pos > startPos {
			return &Breakpoint{Pos: pos, Type: ty}
		}
	}
	return nil
}

// ShouldFlushEarly reports whether buffered content is large enough to
// flush before the debounce timer fires. softBytes should sit below the
// platform hard limit so a logical break can still be found.
func ShouldFlushEarly(text string, softBytes int) bool {
	if len(text) > softBytes {
		return true
	}
	return strings.Count(text, "\n") > maxBufferedLines
}

// EndsAtBreakpoint classifies how the buffered content ends, used to
// decide whether a trailing flush produces a clean post boundary.
func EndsAtBreakpoint(text string) BreakType {
	if text == "" {
		return BreakNone
	}
	if GetCodeBlockState(text, len(text)).Inside {
		return BreakNone
	}
	trimmed := strings.TrimRight(text, "\n")
	if strings.HasSuffix(text, "\n\n") {
		return BreakParagraph
	}
	lastNL := strings.LastIndexByte(trimmed, '\n')
	lastLine := trimmed[lastNL+1:]
	if isToolMarkerLine(lastLine) {
		return BreakToolMarker
	}
	if strings.HasPrefix(strings.TrimLeft(lastLine, " \t"), "```") {
		return BreakCodeBlockEnd
	}
	return BreakNone
}

// EstimateRenderedHeight approximates the rendered pixel height of a
// markdown body: headings and code lines have fixed heights, normal
// lines wrap at an assumed column width.
func EstimateRenderedHeight(text string) int {
	if text == "" {
		return 0
	}
	height := 0
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(trimmed, "```"):
			inFence = !inFence
			height += codeLinePx
		case inFence:
			height += codeLinePx
		case line == "":
			height += blankLinePx
		case isHeadingLine(trimmed):
			height += headingHeightPx
		default:
			w := runewidth.StringWidth(line)
			rows := (w + wrapColumns - 1) / wrapColumns
			if rows < 1 {
				rows = 1
			}
			height += rows * lineHeightPx
		}
	}
	return height
}
