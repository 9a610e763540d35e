package mattermost

import (
	"fmt"
	"strings"
)

// Formatter renders standard markdown as Mattermost displays it.
type Formatter struct{}

func (Formatter) Bold(s string) string       { return "**" + s + "**" }
func (Formatter) Italic(s string) string     { return "_" + s + "_" }
func (Formatter) Strike(s string) string     { return "~~" + s + "~~" }
func (Formatter) InlineCode(s string) string { return "`" + s + "`" }

func (Formatter) CodeBlock(lang, body string) string {
	return "```" + lang + "\n" + strings.TrimRight(body, "\n") + "\n```"
}

func (Formatter) Link(text, url string) string { return "[" + text + "](" + url + ")" }
func (Formatter) Mention(userID string) string { return "@" + userID }
func (Formatter) HorizontalRule() string       { return "---" }

func (Formatter) Blockquote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func (Formatter) Bullet(s string) string         { return "- " + s }
func (Formatter) Numbered(i int, s string) string { return fmt.Sprintf("%d. %s", i, s) }

func (Formatter) Heading(level int, s string) string {
	if level < 1 {
		level = 1
	}
	if level > 3 {
		level = 3
	}
	return strings.Repeat("#", level) + " " + s
}

func (f Formatter) Table(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f Formatter) KeyValue(pairs [][2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(f.Bold(p[0]) + ": " + p[1] + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Escape neutralizes markdown control characters in untrusted text.
func (Formatter) Escape(s string) string {
	r := strings.NewReplacer(
		"*", "\\*", "_", "\\_", "~", "\\~", "`", "\\`",
		"[", "\\[", "]", "\\]", "#", "\\#", ">", "\\>",
	)
	return r.Replace(s)
}
