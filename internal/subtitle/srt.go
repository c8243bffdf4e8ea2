// Package subtitle converts timestamped transcription entries into SubRip
// (SRT) subtitle text.
package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/book-expert/media-service/internal/core"
)

// MimeType is the content type of the rendered subtitle text.
const MimeType = "text/plain; charset=utf-8"

const (
	millisPerSecond = 1000
	millisPerMinute = 60 * millisPerSecond
	millisPerHour   = 60 * millisPerMinute

	timestampSeparator = " --> "
)

// ToSubtitle renders segments as numbered SRT blocks in input order. Entries
// whose text is empty after trimming are skipped and do not consume an index.
func ToSubtitle(segments []core.Segment) string {
	var builder strings.Builder

	index := 0

	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}

		index++

		if index > 1 {
			builder.WriteString("\n")
		}

		builder.WriteString(strconv.Itoa(index))
		builder.WriteString("\n")
		builder.WriteString(FormatTimestamp(segment.StartSeconds))
		builder.WriteString(timestampSeparator)
		builder.WriteString(FormatTimestamp(segment.EndSeconds))
		builder.WriteString("\n")
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	return builder.String()
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm. Hours are not wrapped at 24
// and widen past two digits when needed. Negative or non-finite input renders
// as zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}

	totalMillis := int64(math.Round(seconds * millisPerSecond))

	hours := totalMillis / millisPerHour
	remainder := totalMillis % millisPerHour
	minutes := remainder / millisPerMinute
	remainder %= millisPerMinute
	wholeSeconds := remainder / millisPerSecond
	millis := remainder % millisPerSecond

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, wholeSeconds, millis)
}
