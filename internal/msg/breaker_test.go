package msg

import (
	"strings"
	"testing"
)

func TestGetCodeBlockState(t *testing.T) {
	text := "intro\n```go\nfunc main() {}\n```\nafter\n```\nopen"

	tests := []struct {
		name   string
		pos    int
		inside bool
		lang   string
	}{
		{"before first fence", 3, false, ""},
		{"inside first fence", strings.Index(text, "func"), true, "go"},
		{"after close", strings.Index(text, "after"), false, ""},
		{"inside trailing open fence", len(text), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := GetCodeBlockState(text, tt.pos)
			if st.Inside != tt.inside {
				t.Fatalf("Inside = %v, want %v", st.Inside, tt.inside)
			}
			if st.Inside && st.Language != tt.lang {
				t.Errorf("Language = %q, want %q", st.Language, tt.lang)
			}
		})
	}
}

func TestFindLogicalBreakpointPriority(t *testing.T) {
	// Window contains a plain line, a paragraph break, and a tool marker.
	// The tool marker wins regardless of position.
	text := "line one\nline two\n\npara two\n  ↳ ✓ (4s)\nmore\n"
	bp := FindLogicalBreakpoint(text, 0, len(text))
	if bp == nil {
		t.Fatal("expected a breakpoint")
	}
	if bp.Type != BreakToolMarker {
		t.Fatalf("Type = %v, want BreakToolMarker", bp.Type)
	}
	wantPos := strings.Index(text, "more")
	if bp.Pos != wantPos {
		t.Errorf("Pos = %d, want %d", bp.Pos, wantPos)
	}
}

func TestFindLogicalBreakpointParagraphOverLine(t *testing.T) {
	text := "alpha\nbeta\n\ngamma\ndelta\n"
	bp := FindLogicalBreakpoint(text, 0, len(text))
	if bp == nil {
		t.Fatal("expected a breakpoint")
	}
	if bp.Type != BreakParagraph {
		t.Fatalf("Type = %v, want BreakParagraph", bp.Type)
	}
	if got, want := bp.Pos, strings.Index(text, "gamma"); got != want {
		t.Errorf("Pos = %d, want %d", got, want)
	}
}

func TestFindLogicalBreakpointHeading(t *testing.T) {
	text := "some text\n## Section\nbody\n"
	bp := FindLogicalBreakpoint(text, 2, len(text))
	if bp == nil {
		t.Fatal("expected a breakpoint")
	}
	if bp.Type != BreakHeading {
		t.Fatalf("Type = %v, want BreakHeading", bp.Type)
	}
	if got, want := bp.Pos, strings.Index(text, "##"); got != want {
		t.Errorf("Pos = %d, want %d (heading starts the second part)", got, want)
	}
}

func TestFindLogicalBreakpointInsideFence(t *testing.T) {
	// Only a fence close is acceptable inside an open block.
	text := "```\ncode a\ncode b\n\ncode c\n```\ntail\n"
	bp := FindLogicalBreakpoint(text, 1, len(text))
	if bp == nil {
		t.Fatal("expected a breakpoint")
	}
	if bp.Type != BreakCodeBlockEnd {
		t.Fatalf("Type = %v, want BreakCodeBlockEnd", bp.Type)
	}
	if got, want := bp.Pos, strings.Index(text, "tail"); got != want {
		t.Errorf("Pos = %d, want %d", got, want)
	}
}

func TestFindLogicalBreakpointNoneInWindow(t *testing.T) {
	text := "one long unbroken line without any newline characters at all"
	if bp := FindLogicalBreakpoint(text, 0, len(text)); bp != nil {
		t.Fatalf("expected nil, got %+v", bp)
	}
}

func TestShouldFlushEarly(t *testing.T) {
	if ShouldFlushEarly("short", 100) {
		t.Error("small buffer should not flush early")
	}
	if !ShouldFlushEarly(strings.Repeat("x", 101), 100) {
		t.Error("oversized buffer should flush early")
	}
	if !ShouldFlushEarly(strings.Repeat("line\n", maxBufferedLines+1), 1<<20) {
		t.Error("many lines should flush early")
	}
}

func TestEndsAtBreakpoint(t *testing.T) {
	tests := []struct {
		name string
		text string
		want BreakType
	}{
		{"empty", "", BreakNone},
		{"paragraph", "text\n\n", BreakParagraph},
		{"tool marker", "stuff\n  ↳ ✓ (5s)", BreakToolMarker},
		{"fence close", "```go\ncode\n```", BreakCodeBlockEnd},
		{"open fence", "```go\ncode", BreakNone},
		{"plain text", "hello world", BreakNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EndsAtBreakpoint(tt.text); got != tt.want {
				t.Errorf("EndsAtBreakpoint(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateRenderedHeight(t *testing.T) {
	if h := EstimateRenderedHeight(""); h != 0 {
		t.Errorf("empty height = %d, want 0", h)
	}
	// A wrapped line counts more rows than a short one.
	short := EstimateRenderedHeight("abc")
	long := EstimateRenderedHeight(strings.Repeat("a", 200))
	if long <= short {
		t.Errorf("wrapped line height %d should exceed short line height %d", long, short)
	}
	// Heading taller than a plain line.
	if EstimateRenderedHeight("# Title") <= EstimateRenderedHeight("title") {
		t.Error("heading should render taller than plain text")
	}
}
