package conductor

import "strings"

// ParseCollapsedOutput splits one merged model response back into
// per-step outputs. It always returns exactly expectedCount strings and
// never fails: continuation beats aborting a multi-step flow.
//
// The response is split on the literal StepBoundary sentinel, segments
// are trimmed and empties dropped. Too few segments pad by repeating the
// last one (or the whole raw output when no segment survived); too many
// truncate to the first expectedCount.
func ParseCollapsedOutput(output string, expectedCount int) []string {
	if expectedCount <= 0 {
		return []string{}
	}

	var segments []string
	for _, part := range strings.Split(output, StepBoundary) {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}

	switch {
	case len(segments) == expectedCount:
		return segments

	case len(segments) > expectedCount:
		return segments[:expectedCount]

	default:
		filler := output
		if len(segments) > 0 {
			filler = segments[len(segments)-1]
		}
		for len(segments) < expectedCount {
			segments = append(segments, filler)
		}
		return segments
	}
}
