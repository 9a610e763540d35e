package slack

import (
	"fmt"
	"strings"
)

// Formatter renders the mrkdwn subset Slack supports. Headings and
// tables have no native form and degrade to bold lines and aligned
// text.
type Formatter struct{}

func (Formatter) Bold(s string) string       { return "*" + s + "*" }
func (Formatter) Italic(s string) string     { return "_" + s + "_" }
func (Formatter) Strike(s string) string     { return "~" + s + "~" }
func (Formatter) InlineCode(s string) string { return "`" + s + "`" }

func (Formatter) CodeBlock(lang, body string) string {
	// mrkdwn fences carry no language tag.
	_ = lang
	return "```\n" + strings.TrimRight(body, "\n") + "\n```"
}

func (Formatter) Link(text, url string) string { return "<" + url + "|" + text + ">" }
func (Formatter) Mention(userID string) string { return "<@" + userID + ">" }
func (Formatter) HorizontalRule() string       { return "────────" }

func (Formatter) Blockquote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func (Formatter) Bullet(s string) string         { return "• " + s }
func (Formatter) Numbered(i int, s string) string { return fmt.Sprintf("%d. %s", i, s) }

func (f Formatter) Heading(level int, s string) string {
	_ = level
	return f.Bold(s)
}

func (f Formatter) Table(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(f.Bold(strings.Join(headers, " · ")) + "\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, " · ") + "\n")
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

// Escape neutralizes mrkdwn control characters and the <>& trio Slack
// treats specially.
func (Formatter) Escape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;",
		"*", "\\*", "_", "\\_", "~", "\\~", "`", "\\`",
	)
	return r.Replace(s)
}
