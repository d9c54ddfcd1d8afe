package prompt

import "fmt"

// Phase identifies one of the Sequential Executor's per-phase prompt
// templates (spec.md §4.3). Each phase reuses Build's scaffolding but swaps
// in a phase-specific instruction so the model returns a narrower payload.
type Phase string

const (
	PhaseUnderstanding Phase = "understanding"
	PhaseApproach      Phase = "approach"
	PhasePlanning      Phase = "planning"
)

var phaseInstructions = map[Phase]string{
	PhaseUnderstanding: "Produce only an understanding of the request: a " +
		"summary, the key requirements, the task type, a complexity estimate " +
		"(Simple/Moderate/Complex), any risks, and any clarifications needed. " +
		"Respond as SUMMARY:, KEY_REQUIREMENTS: (one per line, '-' prefixed), " +
		"TASK_TYPE:, COMPLEXITY:, RISKS:, CLARIFICATIONS:.",
	PhaseApproach: "Produce only a technical approach: a description, the " +
		"tech stack involved, the architecture, key decisions, expected " +
		"outcomes, and alternatives considered. Respond as DESCRIPTION:, " +
		"TECH_STACK:, ARCHITECTURE:, DECISIONS:, EXPECTED_OUTCOMES:, " +
		"ALTERNATIVES:.",
	PhasePlanning: "Produce only an execution plan: ordered steps, their " +
		"dependencies, an estimated duration, required resources, " +
		"milestones, and success criteria. Respond as STEPS: (one per line, " +
		"numbered), DEPENDENCIES:, ESTIMATED_DURATION:, RESOURCES:, " +
		"MILESTONES:, SUCCESS_CRITERIA:.",
}

// BuildPhase composes a prompt for one phase of the Sequential Executor,
// incorporating prior-phase output as context when present.
func (b *Builder) BuildPhase(phase Phase, userRequest string, priorContext string) string {
	instruction, ok := phaseInstructions[phase]
	if !ok {
		instruction = "Respond concisely."
	}

	var context string
	if priorContext != "" {
		context = fmt.Sprintf("Prior analysis:\n%s\n\n", priorContext)
	}

	return fmt.Sprintf(
		"You are a precise, concise software engineering assistant executing "+
			"the %s phase of a multi-phase task.\n\n%sRequest:\n```\n%s\n```\n\n%s",
		phase, context, userRequest, instruction,
	)
}
