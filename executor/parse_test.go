package executor

import "testing"

func TestParseUnderstandingColonForm(t *testing.T) {
	response := "SUMMARY: Add retry support to the HTTP client\n" +
		"KEY_REQUIREMENTS:\n- Exponential backoff\n- Respect context cancellation\n" +
		"TASK_TYPE: feature\nCOMPLEXITY: Moderate\nRISKS:\n- May mask real failures\n" +
		"CLARIFICATIONS:\n- None\n"

	out := parseUnderstanding(response)
	if out.Summary != "Add retry support to the HTTP client" {
		t.Errorf("Summary = %q", out.Summary)
	}
	if len(out.KeyRequirements) != 2 {
		t.Errorf("KeyRequirements = %v, want 2 entries", out.KeyRequirements)
	}
	if out.Complexity != "Moderate" {
		t.Errorf("Complexity = %q", out.Complexity)
	}
}

func TestConfidenceForUnderstandingRewardsCompleteness(t *testing.T) {
	full := confidenceForUnderstanding(UnderstandingOutput{Summary: "x", KeyRequirements: []string{"a"}})
	if !full.Passed {
		t.Errorf("expected full understanding to pass, got confidence %v", full.Confidence)
	}
	empty := confidenceForUnderstanding(UnderstandingOutput{})
	if empty.Passed {
		t.Errorf("expected empty understanding to fail, got confidence %v", empty.Confidence)
	}
}

func TestParsePlanningExtractsStepsAndDependencies(t *testing.T) {
	response := "STEPS:\n- Read the config file\n- Apply the patch (depends on 1)\n- Run tests (depends on 1, 2)\n" +
		"ESTIMATED_DURATION: 10m\nRESOURCES:\n- CI runner\nMILESTONES:\n- Patch applied\n" +
		"SUCCESS_CRITERIA:\n- Tests pass\n"

	out := parsePlanning(response)
	if len(out.Steps) != 3 {
		t.Fatalf("Steps = %v, want 3", out.Steps)
	}
	if out.Steps[1].Description != "Apply the patch" {
		t.Errorf("Steps[1].Description = %q", out.Steps[1].Description)
	}
	if len(out.Steps[1].DependsOn) != 1 || out.Steps[1].DependsOn[0] != 1 {
		t.Errorf("Steps[1].DependsOn = %v, want [1]", out.Steps[1].DependsOn)
	}
	if len(out.Steps[2].DependsOn) != 2 {
		t.Errorf("Steps[2].DependsOn = %v, want 2 entries", out.Steps[2].DependsOn)
	}
	if out.EstimatedDuration.Minutes() != 10 {
		t.Errorf("EstimatedDuration = %v, want 10m", out.EstimatedDuration)
	}
}

func TestParsePlanningFallsBackWhenNoLabelsPresent(t *testing.T) {
	out := parsePlanning("a plain unlabeled response")
	if len(out.Steps) != 0 {
		t.Errorf("expected no steps, got %v", out.Steps)
	}
}
