package executor

import (
	"strconv"
	"strings"
	"time"

	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/task"
)

var (
	understandingLabels = []string{"SUMMARY", "KEY_REQUIREMENTS", "TASK_TYPE", "COMPLEXITY", "RISKS", "CLARIFICATIONS"}
	approachLabels      = []string{"DESCRIPTION", "TECH_STACK", "ARCHITECTURE", "DECISIONS", "EXPECTED_OUTCOMES", "ALTERNATIVES"}
	planningLabels      = []string{"STEPS", "ESTIMATED_DURATION", "RESOURCES", "MILESTONES", "SUCCESS_CRITERIA"}

	understandingPatterns = buildLabelPatterns(understandingLabels)
	approachPatterns      = buildLabelPatterns(approachLabels)
	planningPatterns      = buildLabelPatterns(planningLabels)
)

func splitListLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// parseUnderstanding parses an Understanding-phase response per spec.md
// §4.3 step 3, falling back to treating the whole response as Summary when
// no labels are recognized.
func parseUnderstanding(response string) UnderstandingOutput {
	sections := extractSections(response, understandingPatterns)
	if sections == nil {
		return UnderstandingOutput{Summary: strings.TrimSpace(response)}
	}
	return UnderstandingOutput{
		Summary:         strings.TrimSpace(sections["SUMMARY"]),
		KeyRequirements: splitListLines(sections["KEY_REQUIREMENTS"]),
		TaskType:        prompt.TaskType(strings.TrimSpace(sections["TASK_TYPE"])),
		Complexity:      task.Complexity(strings.TrimSpace(sections["COMPLEXITY"])),
		Risks:           splitListLines(sections["RISKS"]),
		Clarifications:  splitListLines(sections["CLARIFICATIONS"]),
	}
}

// confidenceForUnderstanding implements spec.md §4.3 step 4's heuristic: a
// non-empty summary plus at least one key requirement raises confidence;
// empty fields lower it.
func confidenceForUnderstanding(out UnderstandingOutput) Validation {
	v := Validation{Confidence: 0.3}
	if out.Summary != "" {
		v.Confidence += 0.4
	} else {
		v.Messages = append(v.Messages, "missing summary")
	}
	if len(out.KeyRequirements) > 0 {
		v.Confidence += 0.3
	} else {
		v.Warnings = append(v.Warnings, "no key requirements identified")
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	v.Passed = v.Confidence >= 0.7
	return v
}

func parseApproach(response string) ApproachOutput {
	sections := extractSections(response, approachPatterns)
	if sections == nil {
		return ApproachOutput{Description: strings.TrimSpace(response)}
	}
	return ApproachOutput{
		Description:      strings.TrimSpace(sections["DESCRIPTION"]),
		TechStack:        splitListLines(sections["TECH_STACK"]),
		Architecture:     strings.TrimSpace(sections["ARCHITECTURE"]),
		Decisions:        splitListLines(sections["DECISIONS"]),
		ExpectedOutcomes: splitListLines(sections["EXPECTED_OUTCOMES"]),
		Alternatives:     splitListLines(sections["ALTERNATIVES"]),
	}
}

func confidenceForApproach(out ApproachOutput) Validation {
	v := Validation{Confidence: 0.3}
	if out.Description != "" {
		v.Confidence += 0.4
	} else {
		v.Messages = append(v.Messages, "missing description")
	}
	if len(out.Decisions) > 0 || len(out.TechStack) > 0 {
		v.Confidence += 0.3
	} else {
		v.Warnings = append(v.Warnings, "no tech stack or decisions identified")
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	v.Passed = v.Confidence >= 0.7
	return v
}

// parsePlanning turns a PLAN-style STEPS list into ExecutionSteps, inferring
// DependsOn from any "(depends on N[, M...])" suffix on a step line.
func parsePlanning(response string) PlanningOutput {
	sections := extractSections(response, planningPatterns)
	if sections == nil {
		return PlanningOutput{}
	}
	lines := splitListLines(sections["STEPS"])
	steps := make([]task.ExecutionStep, 0, len(lines))
	for i, line := range lines {
		desc, deps := splitDependsOn(line)
		steps = append(steps, task.ExecutionStep{
			StepNumber:  i + 1,
			StepType:    task.StepExecution,
			Description: desc,
			Status:      task.StepPending,
			DependsOn:   deps,
		})
	}
	return PlanningOutput{
		Steps:             steps,
		EstimatedDuration: parseDuration(sections["ESTIMATED_DURATION"]),
		Resources:         splitListLines(sections["RESOURCES"]),
		Milestones:        splitListLines(sections["MILESTONES"]),
		SuccessCriteria:   splitListLines(sections["SUCCESS_CRITERIA"]),
	}
}

func confidenceForPlanning(out PlanningOutput) Validation {
	v := Validation{Confidence: 0.2}
	if len(out.Steps) > 0 {
		v.Confidence += 0.5
	} else {
		v.Messages = append(v.Messages, "no steps produced")
	}
	if len(out.SuccessCriteria) > 0 {
		v.Confidence += 0.3
	} else {
		v.Warnings = append(v.Warnings, "no success criteria identified")
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	v.Passed = v.Confidence >= 0.7
	return v
}

// splitDependsOn pulls a trailing "(depends on 1, 2)" annotation off a step
// description line, if present.
func splitDependsOn(line string) (string, []int) {
	idx := strings.LastIndex(strings.ToLower(line), "(depends on")
	if idx == -1 {
		return line, nil
	}
	desc := strings.TrimSpace(line[:idx])
	rest := line[idx:]
	rest = strings.TrimSuffix(strings.TrimPrefix(rest, "(depends on"), ")")
	var deps []int
	for _, tok := range strings.Split(rest, ",") {
		tok = strings.TrimSpace(tok)
		if n, err := strconv.Atoi(tok); err == nil {
			deps = append(deps, n)
		}
	}
	return desc, deps
}

func parseDuration(text string) time.Duration {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if d, err := time.ParseDuration(strings.ReplaceAll(text, " ", "")); err == nil {
		return d
	}
	return 0
}
