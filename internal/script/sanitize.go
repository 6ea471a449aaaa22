package script

import (
	"strings"
	"unicode"
)

// Punctuation normalization constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// quoteAndDashReplacer maps typographic punctuation onto the plain ASCII
// forms the synthesis engine is trained on.
var quoteAndDashReplacer = strings.NewReplacer(
	emDash, "-",
	enDash, "-",
	figureDash, "-",
	ellipsisChar, ellipsis,
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// Sanitize cleans raw request text before parsing: control characters are
// stripped (newlines and tabs survive, since newlines carry speaker
// structure), smart quotes and dashes are normalized, and runs of spaces are
// collapsed within each line.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}

	text = stripControlCharacters(text)
	text = quoteAndDashReplacer.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// stripControlCharacters removes non-printable runes except newline and tab.
func stripControlCharacters(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}
