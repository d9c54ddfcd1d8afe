// Package prompt implements the Prompt Builder and task-type inference (C4):
// assembling a single LLM-facing prompt from a system role, project context,
// a per-task-type scenario, the user request, an output-format block, and
// constraints, grounded on the layered assembly in
// orchestration/default_prompt_builder.go and
// orchestration/template_prompt_builder.go.
package prompt

import (
	"fmt"
	"strings"
)

// TaskType is one of the task-type inference buckets from spec.md §4.4.
type TaskType string

const (
	TaskTesting          TaskType = "testing"
	TaskRefactoring      TaskType = "refactoring"
	TaskDebugging        TaskType = "debugging"
	TaskDocumentation    TaskType = "documentation"
	TaskOptimization     TaskType = "optimization"
	TaskArchitecture     TaskType = "architecture"
	TaskFileOperations   TaskType = "file_operations"
	TaskCommandExecution TaskType = "command_execution"
	TaskCodeGeneration   TaskType = "code_generation"
	TaskUnknown          TaskType = ""
)

// inferenceRule pairs a set of substrings with the task type they imply.
// Order matters: InferTaskType scans in this priority order and returns on
// first match, per spec.md §4.4.
type inferenceRule struct {
	substrings []string
	taskType   TaskType
}

var inferenceRules = []inferenceRule{
	{[]string{"test", "unit test"}, TaskTesting},
	{[]string{"refactor", "improve"}, TaskRefactoring},
	{[]string{"debug", "fix", "error"}, TaskDebugging},
	{[]string{"document", "doc"}, TaskDocumentation},
	{[]string{"optimize", "performance"}, TaskOptimization},
	{[]string{"design", "architecture"}, TaskArchitecture},
	{[]string{"read", "write", "file"}, TaskFileOperations},
	{[]string{"run", "execute", "command"}, TaskCommandExecution},
	{[]string{"create", "generate", "implement"}, TaskCodeGeneration},
}

// InferTaskType performs the lowercase substring scan from spec.md §4.4: the
// first rule (in priority order) with a matching substring wins; if none
// match, TaskUnknown is returned and no scenario block is included.
func InferTaskType(request string) TaskType {
	lower := strings.ToLower(request)
	for _, rule := range inferenceRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				return rule.taskType
			}
		}
	}
	return TaskUnknown
}

// scenario is the per-task-type block inserted into the prompt when a
// matching task type has one registered, mirroring
// default_prompt_builder.go's domain-section switch but keyed on task type
// instead of industry domain.
var scenarios = map[TaskType]string{
	TaskTesting: "Focus on test coverage, edge cases, and assertions that " +
		"verify behavior rather than implementation detail.",
	TaskRefactoring: "Preserve external behavior exactly. Identify the " +
		"smallest set of changes that removes the identified issue.",
	TaskDebugging: "Identify root cause before proposing a fix. Distinguish " +
		"symptom from cause in the understanding phase.",
	TaskDocumentation: "Match the existing documentation density and voice. " +
		"Do not document what identifiers already make obvious.",
	TaskOptimization: "Establish a baseline before proposing changes. Prefer " +
		"algorithmic improvements over micro-optimizations.",
	TaskArchitecture: "Consider maintainability, testability, and the " +
		"blast radius of the proposed structure.",
	TaskFileOperations: "Confirm paths are within the permitted working set " +
		"before proposing reads or writes.",
	TaskCommandExecution: "Prefer the least privileged command that " +
		"accomplishes the goal. Flag anything destructive explicitly.",
	TaskCodeGeneration: "Match existing naming and structure conventions in " +
		"the surrounding code.",
}

// Config configures prompt assembly: project context and global constraints
// that apply regardless of task type, mirroring PromptConfig's
// Domain/CustomInstructions fields generalized to this runtime's vocabulary.
type Config struct {
	ProjectContext string   // tech stack / conventions, included verbatim if non-empty
	Constraints    []string // appended as a numbered list
}

// Builder assembles prompts per the C4 contract.
type Builder struct {
	config Config
}

// New constructs a Builder.
func New(config Config) *Builder {
	return &Builder{config: config}
}

// Build composes the full LLM-facing prompt for a user request, inferring
// the task type if not explicitly provided.
func (b *Builder) Build(userRequest string, taskType TaskType) string {
	if taskType == TaskUnknown {
		taskType = InferTaskType(userRequest)
	}

	var sb strings.Builder

	sb.WriteString("You are a precise, concise software engineering assistant. ")
	sb.WriteString("Identify root causes, not just symptoms, and prefer the smallest correct change.\n\n")

	if b.config.ProjectContext != "" {
		sb.WriteString("Project context:\n")
		sb.WriteString(b.config.ProjectContext)
		sb.WriteString("\n\n")
	}

	if scenario, ok := scenarios[taskType]; ok {
		sb.WriteString(fmt.Sprintf("Task type: %s\n%s\n\n", taskType, scenario))
	}

	sb.WriteString("Request:\n```\n")
	sb.WriteString(userRequest)
	sb.WriteString("\n```\n\n")

	sb.WriteString("Format: structured_text\n")
	sb.WriteString("Respond using exactly these labeled sections, one per line, " +
		"each followed by its content:\n")
	sb.WriteString("UNDERSTANDING: what the request is actually asking for.\n")
	sb.WriteString("APPROACH: the strategy you will take and why.\n")
	sb.WriteString("PLAN: the ordered steps you will execute.\n")
	sb.WriteString("EXECUTION: what you will do first, concretely.\n\n")

	if len(b.config.Constraints) > 0 {
		sb.WriteString("Constraints:\n")
		for i, c := range b.config.Constraints {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Respond with the labeled sections only, no preamble.")

	return sb.String()
}
