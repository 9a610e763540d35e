package platform

// Semantic reaction categories. Platforms report emoji by name (Slack
// names, Mattermost names); normalization happens here so executors only
// ever see categories.

// ReactionKind classifies an emoji name into the vocabulary the
// interactive executors understand.
type ReactionKind int

const (
	ReactionUnknown ReactionKind = iota
	ReactionApprove              // 👍
	ReactionAllowAll             // ✅
	ReactionDeny                 // 👎 or ❌
	ReactionNumber               // 1️⃣..9️⃣
	ReactionTaskToggle           // arrow_down_small
)

// Canonical emoji names used when the bot seeds reactions on
// interactive posts.
const (
	EmojiApprove    = "+1"
	EmojiAllowAll   = "white_check_mark"
	EmojiDeny       = "-1"
	EmojiCross      = "x"
	EmojiTaskToggle = "arrow_down_small"
)

var approveNames = map[string]bool{
	"+1": true, "thumbsup": true, "thumbs_up": true,
}

var allowAllNames = map[string]bool{
	"white_check_mark": true, "heavy_check_mark": true,
}

var denyNames = map[string]bool{
	"-1": true, "thumbsdown": true, "thumbs_down": true, "x": true,
}

var numberNames = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9,
}

// NumberEmojis are the seed reactions for option posts, in order.
var NumberEmojis = []string{
	"one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
}

// ClassifyReaction maps a platform emoji name to its semantic category.
// For ReactionNumber the second return is the 1-based digit.
func ClassifyReaction(name string) (ReactionKind, int) {
	switch {
	case approveNames[name]:
		return ReactionApprove, 0
	case allowAllNames[name]:
		return ReactionAllowAll, 0
	case denyNames[name]:
		return ReactionDeny, 0
	case name == EmojiTaskToggle:
		return ReactionTaskToggle, 0
	}
	if n, ok := numberNames[name]; ok {
		return ReactionNumber, n
	}
	return ReactionUnknown, 0
}

// NumberEmoji returns the emoji name for a 1-based option index, or ""
// when the index is out of the supported 1..9 range.
func NumberEmoji(i int) string {
	if i < 1 || i > len(NumberEmojis) {
		return ""
	}
	return NumberEmojis[i-1]
}
