package lyrics

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// TimedLine is a single lyric line placed on the playback timeline.
// Instances are value snapshots and are never mutated after parsing.
type TimedLine struct {
	OffsetMs int64  `json:"offsetMs"`
	Text     string `json:"text"`
}

// timestampPattern matches bracketed LRC timestamps of the shape
// [mm:ss.xx], [mm:ss.xxx] or [mm:ss:xx] followed by the line remainder.
var timestampPattern = regexp.MustCompile(`\[(\d{2}):(\d{2})[.:](\d{2,3})](.*)`)

// metadataPattern matches whole-line LRC metadata tags such as [ti:Title].
var metadataPattern = regexp.MustCompile(`^\[(ti|ar|al|au|length|by|offset|re|ve):.*]$`)

// ParseTimeline converts LRC markup into an ordered timeline. Malformed or
// unplaceable lines are dropped rather than reported; the function never
// fails. A line carrying several timestamps yields one entry per timestamp
// with the same text. The result is stable-sorted ascending by offset.
func ParseTimeline(markup string) []TimedLine {
	timeline := make([]TimedLine, 0)
	if markup == "" {
		return timeline
	}

	for _, rawLine := range strings.Split(markup, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		offsets := make([]int64, 0, 1)
		text := line
		remainder := line
		for {
			groups := timestampPattern.FindStringSubmatch(remainder)
			if groups == nil {
				break
			}
			offset, ok := timestampToMillis(groups[1], groups[2], groups[3])
			if ok {
				offsets = append(offsets, offset)
			}
			text = strings.TrimSpace(groups[4])
			remainder = groups[4]
		}

		if text == "" || metadataPattern.MatchString(line) {
			continue
		}

		for _, offset := range offsets {
			timeline = append(timeline, TimedLine{OffsetMs: offset, Text: text})
		}
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].OffsetMs < timeline[j].OffsetMs
	})

	return timeline
}

// timestampToMillis converts matched timestamp groups to milliseconds. A
// two-digit fraction is centiseconds, a three-digit fraction is milliseconds.
func timestampToMillis(minuteGroup, secondGroup, fractionGroup string) (int64, bool) {
	minutes, err := strconv.ParseInt(minuteGroup, 10, 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseInt(secondGroup, 10, 64)
	if err != nil {
		return 0, false
	}
	fraction, err := strconv.ParseInt(fractionGroup, 10, 64)
	if err != nil {
		return 0, false
	}
	if len(fractionGroup) == 2 {
		fraction *= 10
	}
	return minutes*60_000 + seconds*1_000 + fraction, true
}

// FormatTimestamp renders a millisecond offset as an LRC timestamp token.
func FormatTimestamp(milliseconds int64) string {
	totalSeconds := milliseconds / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	centiseconds := (milliseconds % 1000) / 10
	return fmt.Sprintf("[%02d:%02d.%02d]", minutes, seconds, centiseconds)
}

// Preview joins the text of the first lineCount timeline entries.
func Preview(timeline []TimedLine, lineCount int) string {
	if len(timeline) == 0 || lineCount <= 0 {
		return ""
	}
	if lineCount > len(timeline) {
		lineCount = len(timeline)
	}
	texts := make([]string, 0, lineCount)
	for _, entry := range timeline[:lineCount] {
		texts = append(texts, entry.Text)
	}
	return strings.Join(texts, "\n")
}
