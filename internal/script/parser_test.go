// Package script_test tests script parsing, formatting and chunking.
package script_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicekit/speechd/internal/script"
)

func TestParse_TwoSpeakers(t *testing.T) {
	t.Parallel()

	segments := script.Parse("Speaker 0: Hi\nSpeaker 1: Hello")
	require.Len(t, segments, 2)

	assert.Equal(t, 0, segments[0].Speaker)
	assert.Equal(t, "Hi", segments[0].Parts[0].Text)
	assert.Equal(t, 1, segments[1].Speaker)
	assert.Equal(t, "Hello", segments[1].Parts[0].Text)
}

func TestParse_UntaggedTextIsSpeakerZero(t *testing.T) {
	t.Parallel()

	segments := script.Parse("Just some plain narration.")
	require.Len(t, segments, 1)

	assert.Equal(t, 0, segments[0].Speaker)
	assert.Equal(t, "Just some plain narration.", segments[0].Parts[0].Text)
}

func TestParse_UntaggedLinesContinueSpeaker(t *testing.T) {
	t.Parallel()

	segments := script.Parse("Speaker 2: First line.\nSecond line.\nSpeaker 0: Reply.")
	require.Len(t, segments, 2)

	assert.Equal(t, 2, segments[0].Speaker)
	assert.Contains(t, segments[0].Parts[0].Text, "First line.")
	assert.Contains(t, segments[0].Parts[0].Text, "Second line.")
	assert.Equal(t, 0, segments[1].Speaker)
}

func TestParse_BracketedSpeakerTag(t *testing.T) {
	t.Parallel()

	segments := script.Parse("[1]: Bracketed form.")
	require.Len(t, segments, 1)
	assert.Equal(t, 1, segments[0].Speaker)
	assert.Equal(t, "Bracketed form.", segments[0].Parts[0].Text)
}

func TestParse_ConsecutiveSameSpeakerLinesMerge(t *testing.T) {
	t.Parallel()

	segments := script.Parse("Speaker 1: One.\nSpeaker 1: Two.")
	require.Len(t, segments, 1)
	assert.Equal(t, 1, segments[0].Speaker)
}

func TestParse_PauseDirectives(t *testing.T) {
	t.Parallel()

	segments := script.Parse("Speaker 0: Before [pause:500] after [pause] end")
	require.Len(t, segments, 1)

	parts := segments[0].Parts
	require.Len(t, parts, 3)

	assert.Equal(t, "Before", parts[0].Text)
	assert.Equal(t, 500, parts[0].PauseMS)
	assert.Equal(t, "after", parts[1].Text)
	assert.Equal(t, script.DefaultPauseMS, parts[1].PauseMS)
	assert.Equal(t, "end", parts[2].Text)
	assert.Equal(t, 0, parts[2].PauseMS)
}

func TestParse_LeadingPause(t *testing.T) {
	t.Parallel()

	segments := script.Parse("[pause:250] Hello")
	require.Len(t, segments, 1)

	parts := segments[0].Parts
	require.Len(t, parts, 2)
	assert.Empty(t, parts[0].Text)
	assert.Equal(t, 250, parts[0].PauseMS)
	assert.Equal(t, "Hello", parts[1].Text)
}

func TestParse_UnknownSpeakerIndexAccepted(t *testing.T) {
	t.Parallel()

	// Assignment coverage is a generation-time concern; parsing never rejects
	// an index.
	segments := script.Parse("Speaker 7: Lonely voice.")
	require.Len(t, segments, 1)
	assert.Equal(t, 7, segments[0].Speaker)
}

func TestFormatParse_RoundTrip(t *testing.T) {
	t.Parallel()

	input := "Speaker 0: Hi there [pause:500] and welcome.\nSpeaker 1: Thanks. [pause] Glad to be here."

	first := script.Parse(input)
	second := script.Parse(script.Format(first))

	assert.Equal(t, first, second)
}

func TestSpeakers_FirstAppearanceOrder(t *testing.T) {
	t.Parallel()

	segments := script.Parse("Speaker 3: A.\nSpeaker 0: B.\nSpeaker 3: C.")
	// Speaker 3 reappears after speaker 0, producing a third segment but only
	// two distinct indices.
	assert.Equal(t, []int{3, 0}, script.Speakers(segments))
}

func TestFormatSingleSpeaker(t *testing.T) {
	t.Parallel()

	formatted := script.FormatSingleSpeaker("Hello.\n\nWorld.")
	assert.Equal(t, "Speaker 0: Hello.\nSpeaker 0: World.", formatted)
}

func TestChunkText_ShortTextUnchanged(t *testing.T) {
	t.Parallel()

	chunks := script.ChunkText("One short sentence.", 250)
	assert.Equal(t, []string{"One short sentence."}, chunks)
}

func TestChunkText_SplitsAtSentenceBoundaries(t *testing.T) {
	t.Parallel()

	sentence := strings.TrimSpace(strings.Repeat("word ", 30)) + "."
	text := strings.TrimSpace(strings.Repeat(sentence+" ", 4))

	chunks := script.ChunkText(text, 60)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(strings.Fields(chunk)), 62)
	}
}

func TestChunkText_OverlongSentenceSplitsAtClauses(t *testing.T) {
	t.Parallel()

	text := strings.TrimSpace(strings.Repeat("alpha beta gamma, ", 30))

	chunks := script.ChunkText(text, 20)
	require.Greater(t, len(chunks), 1)
}
