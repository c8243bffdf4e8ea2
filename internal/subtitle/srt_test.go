package subtitle_test

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/subtitle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var timestampPattern = regexp.MustCompile(`^(\d{2,}):([0-5]\d):([0-5]\d),(\d{3})$`)

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		seconds  float64
		expected string
	}{
		{name: "zero", seconds: 0, expected: "00:00:00,000"},
		{name: "hour minute second", seconds: 3725.25, expected: "01:02:05,250"},
		{name: "sub second", seconds: 0.5, expected: "00:00:00,500"},
		{name: "float noise rounds to nearest millisecond", seconds: 1.001, expected: "00:00:01,001"},
		{name: "upper range", seconds: 359999.999, expected: "99:59:59,999"},
		{name: "hours past 24 are not wrapped", seconds: 90000, expected: "25:00:00,000"},
		{name: "hours widen past two digits", seconds: 360000, expected: "100:00:00,000"},
		{name: "negative clamps to zero", seconds: -3, expected: "00:00:00,000"},
		{name: "NaN clamps to zero", seconds: math.NaN(), expected: "00:00:00,000"},
		{name: "positive infinity clamps to zero", seconds: math.Inf(1), expected: "00:00:00,000"},
		{name: "negative infinity clamps to zero", seconds: math.Inf(-1), expected: "00:00:00,000"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, subtitle.FormatTimestamp(testCase.seconds))
		})
	}
}

func TestFormatTimestamp_FieldRanges(t *testing.T) {
	t.Parallel()

	for seconds := 0.0; seconds <= 359999.999; seconds += 7919.123 {
		formatted := subtitle.FormatTimestamp(seconds)
		assert.Regexp(t, timestampPattern, formatted, "seconds=%f", seconds)
	}
}

func TestToSubtitle_SingleWord(t *testing.T) {
	t.Parallel()

	output := subtitle.ToSubtitle([]core.Segment{
		{StartSeconds: 0, EndSeconds: 0.42, Text: "hello"},
	})

	assert.Equal(t, "1\n00:00:00,000 --> 00:00:00,420\nhello\n", output)
}

func TestToSubtitle_SkipsBlankEntriesWithoutConsumingIndex(t *testing.T) {
	t.Parallel()

	output := subtitle.ToSubtitle([]core.Segment{
		{StartSeconds: 0, EndSeconds: 0.1, Text: ""},
		{StartSeconds: 0.1, EndSeconds: 0.5, Text: "hello"},
		{StartSeconds: 0.5, EndSeconds: 0.9, Text: "  "},
	})

	blocks := strings.Split(strings.TrimSpace(output), "\n\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, "1\n00:00:00,100 --> 00:00:00,500\nhello", blocks[0])
}

func TestToSubtitle_PreservesOrderWithOverlappingTimestamps(t *testing.T) {
	t.Parallel()

	output := subtitle.ToSubtitle([]core.Segment{
		{StartSeconds: 1.0, EndSeconds: 1.6, Text: " one"},
		{StartSeconds: 1.4, EndSeconds: 2.0, Text: " two"},
		{StartSeconds: 1.9, EndSeconds: 2.5, Text: " three"},
	})

	blocks := strings.Split(strings.TrimSpace(output), "\n\n")
	require.Len(t, blocks, 3)

	expectedWords := []string{"one", "two", "three"}
	for index, block := range blocks {
		lines := strings.Split(block, "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, []string{string(rune('1' + index))}, lines[:1])
		assert.Equal(t, expectedWords[index], lines[2])
	}

	assert.Contains(t, blocks[1], "00:00:01,400 --> 00:00:02,000")
}

func TestToSubtitle_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, subtitle.ToSubtitle(nil))
	assert.Empty(t, subtitle.ToSubtitle([]core.Segment{{Text: "\t"}}))
}
