package executor

import "regexp"

// labelPattern pairs a label with one precompiled form it may appear in.
// Mirrors planner.labelPatterns' dual-form convention (colon and bold), in
// turn grounded on orchestration/executor.go's stepOutputTemplatePattern.
type labelPattern struct {
	label string
	re    *regexp.Regexp
}

func buildLabelPatterns(labels []string) []labelPattern {
	patterns := make([]labelPattern, 0, len(labels)*2)
	for _, label := range labels {
		patterns = append(patterns, labelPattern{label: label, re: regexp.MustCompile(`(?m)^` + label + `:\s*`)})
		patterns = append(patterns, labelPattern{label: label, re: regexp.MustCompile(`(?m)^\*\*` + label + `\*\*:?\s*`)})
	}
	return patterns
}

// extractSections finds the first match of each labelPattern in response and
// slices the text between consecutive matches (by position), mirroring
// planner.extractSections.
func extractSections(response string, patterns []labelPattern) map[string]string {
	type match struct {
		label      string
		start, end int
	}
	var matches []match
	for _, lp := range patterns {
		loc := lp.re.FindStringIndex(response)
		if loc == nil {
			continue
		}
		matches = append(matches, match{label: lp.label, start: loc[0], end: loc[1]})
	}
	if len(matches) == 0 {
		return nil
	}
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].start < matches[i].start {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	sections := make(map[string]string, len(matches))
	for i, m := range matches {
		end := len(response)
		if i+1 < len(matches) {
			end = matches[i+1].start
		}
		sections[m.label] = response[m.end:end]
	}
	return sections
}
