// Package planner implements the single-shot Planner (C5): one LLM call,
// parsed into a task.TaskPlan by extracting dual-form labeled sections.
// Grounded on the teacher's pre-compiled-regexp-at-package-level convention
// in orchestration/executor.go (stepOutputTemplatePattern) and the
// prompt/retry plumbing shape of ai/chain_client.go.
package planner

import (
	"context"
	"regexp"
	"strings"

	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/llm"
	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/rtt"
	"github.com/avalonlabs/taskrunner/task"
)

// recognized labels, in the order spec.md §4.2 lists them.
var labelNames = []string{
	"UNDERSTANDING", "APPROACH", "PLAN", "EXECUTION",
	"COMPLEXITY", "REQUIREMENTS", "KEY_REQUIREMENTS",
}

// labelPatterns holds, per label, the two accepted forms: "LABEL:" and
// "**LABEL**" (optionally followed by a newline instead of a colon).
// Pre-compiled at package level, mirroring the teacher's
// stepOutputTemplatePattern convention.
var labelPatterns = buildLabelPatterns()

type labelPattern struct {
	label string
	re    *regexp.Regexp
}

func buildLabelPatterns() []labelPattern {
	patterns := make([]labelPattern, 0, len(labelNames)*2)
	for _, label := range labelNames {
		// "LABEL:" form, case-sensitive per spec (labels are always upper-case).
		patterns = append(patterns, labelPattern{
			label: label,
			re:    regexp.MustCompile(`(?m)^` + label + `:\s*`),
		})
		// "**LABEL**" form, optionally followed by ":" or newline.
		patterns = append(patterns, labelPattern{
			label: label,
			re:    regexp.MustCompile(`(?m)^\*\*` + label + `\*\*:?\s*`),
		})
	}
	return patterns
}

// Config configures planner construction.
type Config struct {
	MinConfidence float64 // unused by the single-shot path, kept for symmetry with executor.Config
}

// Planner implements analyze_task per spec.md §4.2.
type Planner struct {
	adapter *llm.Adapter
	builder *prompt.Builder
	retry   *rtt.Config
	logger  corelog.Logger
}

// New constructs a Planner.
func New(adapter *llm.Adapter, builder *prompt.Builder, retry *rtt.Config, logger corelog.Logger) *Planner {
	if retry == nil {
		retry = rtt.DefaultConfig()
	}
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Planner{adapter: adapter, builder: builder, retry: retry, logger: logger}
}

// AnalyzeTask builds a prompt, calls the LLM Adapter with retry, and parses
// the response into a task.TaskPlan, per spec.md §4.2.
func (p *Planner) AnalyzeTask(ctx context.Context, request string, taskType prompt.TaskType) (*task.TaskPlan, error) {
	promptText := p.builder.Build(request, taskType)

	var resp *llm.Response
	err := rtt.Retry(ctx, p.retry, func() error {
		r, callErr := p.adapter.Complete(ctx, promptText)
		if callErr != nil {
			resp = nil
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		p.logger.ErrorWithContext(ctx, "planner exhausted retries calling model", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	plan := ParsePlan(resp.Content)
	return plan, nil
}

// ParsePlan extracts labeled sections from an LLM response into a TaskPlan,
// accepting both "LABEL:" and "**LABEL**" forms (spec.md §4.2's mandatory
// dual-form parsing). Falls back to a best-effort plan if no label matches.
func ParsePlan(response string) *task.TaskPlan {
	sections := extractSections(response)

	if len(sections) == 0 {
		return fallbackPlan(response)
	}

	plan := &task.TaskPlan{
		Understanding: strings.TrimSpace(sections["UNDERSTANDING"]),
		Approach:      strings.TrimSpace(sections["APPROACH"]),
	}

	complexity := strings.TrimSpace(sections["COMPLEXITY"])
	if complexity != "" {
		plan.Complexity = task.Complexity(capitalizeWord(complexity))
	} else {
		plan.Complexity = inferComplexity(response)
	}

	requirementsText := sections["REQUIREMENTS"]
	if requirementsText == "" {
		requirementsText = sections["KEY_REQUIREMENTS"]
	}
	plan.Requirements = splitListLines(requirementsText)

	if planText := strings.TrimSpace(sections["PLAN"]); planText != "" {
		plan.EstimatedSteps = countSteps(planText)
	}

	return plan
}

// extractSections locates every recognized label in response (in whichever
// form appears) and slices out the text up to the next recognized label (of
// any form), returning label -> content.
func extractSections(response string) map[string]string {
	type match struct {
		label string
		start int
		end   int // end of the label marker itself, where content begins
	}

	var matches []match
	for _, lp := range labelPatterns {
		loc := lp.re.FindStringIndex(response)
		if loc == nil {
			continue
		}
		matches = append(matches, match{label: lp.label, start: loc[0], end: loc[1]})
	}
	if len(matches) == 0 {
		return nil
	}

	// Sort matches by position so each section's content runs until the next
	// match's start.
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

// fallbackPlan implements spec.md §4.2's malformed-response behavior: no
// recognizable labels found at all.
func fallbackPlan(response string) *task.TaskPlan {
	firstParagraph := response
	if idx := strings.Index(response, "\n\n"); idx >= 0 {
		firstParagraph = response[:idx]
	}
	return &task.TaskPlan{
		Understanding: strings.TrimSpace(firstParagraph),
		Approach:      "Best-effort execution",
		Complexity:    task.ComplexityModerate,
		Requirements:  nil,
	}
}

// inferComplexity implements spec.md §4.2's length-based heuristic when the
// COMPLEXITY label is absent.
func inferComplexity(response string) task.Complexity {
	n := len(response)
	switch {
	case n < 500:
		return task.ComplexitySimple
	case n <= 1500:
		return task.ComplexityModerate
	default:
		return task.ComplexityComplex
	}
}

func splitListLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func countSteps(planText string) *int {
	lines := splitListLines(planText)
	n := len(lines)
	return &n
}

func capitalizeWord(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
