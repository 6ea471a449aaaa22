// Package script turns raw request text into ordered, speaker-tagged,
// pause-aware segments ready for segment-by-segment synthesis.
//
// Parsing is side-effect-free and always succeeds for syntactically valid
// input: speaker indices with no voice assignment are only rejected later, at
// generation time.
package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPauseMS is the silence duration used for a bare [pause] directive.
const DefaultPauseMS = 1000

// DefaultMaxWordsPerChunk bounds any single call into the synthesis engine to
// its effective context window.
const DefaultMaxWordsPerChunk = 250

// Regex patterns for script parsing.
const (
	speakerLinePattern  = `^\s*(?:[Ss]peaker\s+(\d+)\s*:|\[(\d+)\]\s*:)\s*(.*)$`
	pausePattern        = `\[pause(?::(\d+))?\]`
	sentenceEndPattern  = `(?:[.!?])\s+`
	clauseSplitPattern  = `[,;]`
)

var (
	speakerLineRe = regexp.MustCompile(speakerLinePattern)
	pauseRe       = regexp.MustCompile(pausePattern)
	sentenceEndRe = regexp.MustCompile(sentenceEndPattern)
	clauseSplitRe = regexp.MustCompile(clauseSplitPattern)
)

// Part is one text sub-segment paired with the trailing pause, in
// milliseconds, that follows it. A Part with empty Text carries only silence.
type Part struct {
	Text    string
	PauseMS int
}

// Segment is a contiguous run of script attributed to one speaker, in script
// order.
type Segment struct {
	Speaker int
	Parts   []Part
}

// Speakers returns the distinct speaker indices referenced by the segments,
// in first-appearance order.
func Speakers(segments []Segment) []int {
	seen := make(map[int]struct{})

	var indices []int

	for _, segment := range segments {
		if _, ok := seen[segment.Speaker]; ok {
			continue
		}

		seen[segment.Speaker] = struct{}{}
		indices = append(indices, segment.Speaker)
	}

	return indices
}

// Parse splits text into ordered speaker segments. Untagged leading text
// belongs to speaker 0; untagged lines following a tagged line continue that
// speaker. Consecutive lines for the same speaker are merged into one segment
// so that pause and chunking decisions see the whole span.
func Parse(text string) []Segment {
	var (
		segments       []Segment
		currentSpeaker int
		currentText    []string
	)

	flush := func() {
		joined := strings.TrimSpace(strings.Join(currentText, "\n"))
		if joined == "" {
			currentText = nil

			return
		}

		segments = append(segments, Segment{
			Speaker: currentSpeaker,
			Parts:   splitPauses(joined),
		})
		currentText = nil
	}

	for _, line := range strings.Split(text, "\n") {
		match := speakerLineRe.FindStringSubmatch(line)
		if match == nil {
			currentText = append(currentText, line)

			continue
		}

		speaker := parseSpeakerIndex(match)
		if speaker != currentSpeaker {
			flush()

			currentSpeaker = speaker
		}

		currentText = append(currentText, match[3])
	}

	flush()

	return segments
}

// parseSpeakerIndex reads the captured index from either tag form. The regex
// guarantees one of the two groups holds digits.
func parseSpeakerIndex(match []string) int {
	digits := match[1]
	if digits == "" {
		digits = match[2]
	}

	index, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}

	return index
}

// splitPauses cuts a speaker span at [pause] and [pause:<ms>] directives,
// attaching each pause to the preceding sub-segment. A leading pause yields a
// Part with empty text.
func splitPauses(text string) []Part {
	var parts []Part

	lastEnd := 0

	for _, loc := range pauseRe.FindAllStringSubmatchIndex(text, -1) {
		segmentText := strings.TrimSpace(text[lastEnd:loc[0]])
		pauseMS := DefaultPauseMS

		if loc[2] >= 0 {
			ms, err := strconv.Atoi(text[loc[2]:loc[3]])
			if err == nil {
				pauseMS = ms
			}
		}

		parts = append(parts, Part{Text: segmentText, PauseMS: pauseMS})
		lastEnd = loc[1]
	}

	remaining := strings.TrimSpace(text[lastEnd:])
	if remaining != "" || len(parts) == 0 {
		parts = append(parts, Part{Text: remaining, PauseMS: 0})
	}

	return parts
}

// Format re-serializes segments into script text. Parsing the result yields
// the same segments back.
func Format(segments []Segment) string {
	var builder strings.Builder

	for i, segment := range segments {
		if i > 0 {
			builder.WriteString("\n")
		}

		builder.WriteString(fmt.Sprintf("Speaker %d: ", segment.Speaker))

		for _, part := range segment.Parts {
			builder.WriteString(part.Text)

			if part.PauseMS > 0 {
				builder.WriteString(fmt.Sprintf(" [pause:%d] ", part.PauseMS))
			}
		}
	}

	return builder.String()
}

// FormatSingleSpeaker formats plain text as a speaker-0 script, one tagged
// line per non-empty input line. Used by the OpenAI-compatible route, which
// has no speaker markup of its own.
func FormatSingleSpeaker(text string) string {
	var lines []string

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lines = append(lines, "Speaker 0: "+line)
	}

	return strings.Join(lines, "\n")
}

// ChunkText splits a long span into sub-chunks at sentence boundaries so that
// no chunk exceeds maxWords. Sentences longer than the budget are split again
// at clause punctuation. The original span is returned unchanged when it fits.
func ChunkText(text string, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = DefaultMaxWordsPerChunk
	}

	if len(strings.Fields(text)) <= maxWords {
		return []string{text}
	}

	var (
		chunks    []string
		current   []string
		wordCount int
	)

	emit := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
			wordCount = 0
		}
	}

	for _, sentence := range splitSentences(text) {
		sentenceWords := len(strings.Fields(sentence))

		if sentenceWords > maxWords {
			for _, clause := range splitClauses(sentence) {
				clauseWords := len(strings.Fields(clause))
				if wordCount+clauseWords > maxWords {
					emit()
				}

				current = append(current, clause)
				wordCount += clauseWords
			}

			continue
		}

		if wordCount+sentenceWords > maxWords {
			emit()
		}

		current = append(current, sentence)
		wordCount += sentenceWords
	}

	emit()

	if len(chunks) == 0 {
		return []string{text}
	}

	return chunks
}

// splitSentences cuts text after sentence-ending punctuation, keeping the
// punctuation with the sentence it ends.
func splitSentences(text string) []string {
	var sentences []string

	lastEnd := 0

	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		sentence := strings.TrimSpace(text[lastEnd : loc[0]+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		lastEnd = loc[1]
	}

	remaining := strings.TrimSpace(text[lastEnd:])
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

// splitClauses cuts an over-long sentence at commas and semicolons.
func splitClauses(sentence string) []string {
	var clauses []string

	for _, clause := range clauseSplitRe.Split(sentence, -1) {
		clause = strings.TrimSpace(clause)
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}

	if len(clauses) == 0 {
		return []string{sentence}
	}

	return clauses
}
