// Package progress extracts completion percentages from the textual progress
// bars printed by external tools (tqdm-style "45%|####" bars from demucs and
// "[download]  45.3% of ..." lines from yt-dlp).
package progress

import (
	"regexp"
	"strconv"
)

// percentRe matches a standalone percentage followed by a delimiter anywhere
// in a line. The number must not continue a longer run of digits.
var percentRe = regexp.MustCompile(`(?:^|[^\d.])(\d{1,3}(?:\.\d+)?)%(?:[|\s]|$)`)

// Parse returns the stage percentage carried by line, if any.
// Fractions are floored and values above 100 are clamped.
// Lines without a recognizable percentage return (0, false).
func Parse(line string) (int, bool) {
	m := percentRe.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0, false
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	p := int(v)
	if p > 100 {
		p = 100
	}
	return p, true
}

// Scale maps a stage percentage p into the overall window [start, end].
func Scale(p, start, end int) int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return start + p*(end-start)/100
}
