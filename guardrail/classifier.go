// Package guardrail implements the Guardrail Engine (C7): risk
// classification for pending operations, a confirmation protocol for
// high-risk operations, and an optional audit history. Generalized from
// orchestration/hitl_policy.go's RuleBasedPolicy/NoOpPolicy declarative,
// config-driven shape — the teacher gates on capability/agent name; this
// package additionally gates on operation type, dangerous command patterns,
// protected paths, and batch size, per spec.md §4.5.
package guardrail

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/avalonlabs/taskrunner/task"
)

// ForbiddenError is returned when an operation's type is in the configured
// forbidden set; the operation is rejected before any prompt is issued.
type ForbiddenError struct {
	OperationType task.OperationType
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("operation type %s is forbidden by configuration", e.OperationType)
}

// defaultRiskByType is spec.md §4.5's default type→risk mapping.
var defaultRiskByType = map[task.OperationType]task.RiskLevel{
	task.OpFileRead:        task.RiskSafe,
	task.OpFileCreate:      task.RiskLow,
	task.OpFileModify:      task.RiskMedium,
	task.OpFileDelete:      task.RiskHigh,
	task.OpFileRename:      task.RiskHigh,
	task.OpFileMassModify:  task.RiskHigh,
	task.OpDirectoryDelete: task.RiskCritical,
	task.OpCommandRead:     task.RiskSafe,
	task.OpCommandWrite:    task.RiskMedium,
	task.OpCommandDelete:   task.RiskCritical,
	task.OpCommandSystem:   task.RiskCritical,
	task.OpDatabaseDrop:    task.RiskCritical,
}

// dangerousPattern is a precompiled regex/risk pair from spec.md §4.5's
// predefined dangerous-pattern set, following the teacher's package-level
// pre-compiled regexp convention (orchestration/executor.go's
// stepOutputTemplatePattern).
type dangerousPattern struct {
	name                 string
	re                   *regexp.Regexp
	risk                 task.RiskLevel
	requiresConfirmation bool
}

var dangerousPatterns = []dangerousPattern{
	{"rm_rf", regexp.MustCompile(`rm\s+-rf?`), task.RiskCritical, true},
	{"rm_star", regexp.MustCompile(`rm\s+\*`), task.RiskHigh, true},
	{"drop_db_or_table", regexp.MustCompile(`DROP\s+(DATABASE|TABLE)`), task.RiskCritical, true},
	{"sudo", regexp.MustCompile(`sudo\s+`), task.RiskCritical, true},
	{"chmod_777", regexp.MustCompile(`chmod\s+777`), task.RiskHigh, true},
	{"curl_pipe_shell", regexp.MustCompile(`curl[^|]*\|\s*(sh|bash)`), task.RiskCritical, true},
	{"glob_all", regexp.MustCompile(`\*\*/\*`), task.RiskHigh, false},
}

// defaultProtectedPaths is spec.md §4.5's default protected-path set.
var defaultProtectedPaths = []string{
	".git/", "node_modules/", "target/release/", ".env",
	"secrets/", "credentials/", "/etc/", "/usr/", "/System/",
}

// Config configures a RiskClassifier, mirroring corecfg.GuardrailConfig.
type Config struct {
	ForbiddenOperationTypes []task.OperationType
	ProtectedPaths          []string
	AutoConfirmThreshold    task.RiskLevel
	FileCountThreshold      int
	LineCountThreshold      int
	SizeThresholdBytes      int64
}

// DefaultConfig returns spec.md §4.5's documented defaults.
func DefaultConfig() Config {
	return Config{
		ProtectedPaths:       append([]string(nil), defaultProtectedPaths...),
		AutoConfirmThreshold: task.RiskLow,
		FileCountThreshold:   10,
		LineCountThreshold:   1000,
		SizeThresholdBytes:   10 * 1024 * 1024,
	}
}

// PendingOperation is the input to classification: everything known about
// an operation before it executes.
type PendingOperation struct {
	OperationType  task.OperationType
	CommandString  string
	Targets        []task.Target
	FileCount      int
	LineCount      int
	SizeBytes      int64
	Reversible     bool
	HasSnapshot    bool
	EstimatedDurMs int64
}

// Classifier is the Guardrail Engine's risk-classification pipeline.
type Classifier interface {
	Classify(op PendingOperation) (*task.OperationGuard, error)
}

// RiskClassifier is the default, config-driven Classifier implementation,
// generalizing RuleBasedPolicy's declarative rule evaluation.
type RiskClassifier struct {
	cfg Config
}

// NewRiskClassifier constructs a RiskClassifier.
func NewRiskClassifier(cfg Config) *RiskClassifier {
	if cfg.AutoConfirmThreshold == 0 && cfg.FileCountThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &RiskClassifier{cfg: cfg}
}

// Classify runs the full risk-classification pipeline from spec.md §4.5.
func (c *RiskClassifier) Classify(op PendingOperation) (*task.OperationGuard, error) {
	// Step 1: forbidden set check, before any further work (and before any
	// prompt is issued by a caller further up the stack).
	for _, forbidden := range c.cfg.ForbiddenOperationTypes {
		if forbidden == op.OperationType {
			return nil, &ForbiddenError{OperationType: op.OperationType}
		}
	}

	// Step 2: base risk.
	risk := defaultRiskByType[op.OperationType]

	// Step 3: dangerous-pattern scan; final risk is the max of base and all
	// matched patterns.
	var matched []task.DetectedPattern
	requiresByPattern := false
	if op.CommandString != "" {
		for _, p := range dangerousPatterns {
			if p.re.MatchString(op.CommandString) {
				matched = append(matched, task.DetectedPattern{
					Pattern:              p.name,
					Risk:                 p.risk,
					RequiresConfirmation: p.requiresConfirmation,
				})
				if p.risk > risk {
					risk = p.risk
				}
				if p.requiresConfirmation {
					requiresByPattern = true
				}
			}
		}
	}

	// Step 4: protected-path check raises risk to at least High.
	targets := markProtected(op.Targets, c.cfg.ProtectedPaths)
	for _, t := range targets {
		if t.IsProtected && risk < task.RiskHigh {
			risk = task.RiskHigh
		}
	}

	// Step 5: batch threshold raises risk to at least High.
	batchExceeded := exceedsBatchThreshold(op, c.cfg)
	if batchExceeded && risk < task.RiskHigh {
		risk = task.RiskHigh
	}

	// Step 6: expected impact.
	impact := task.Impact{
		AffectedFiles:       op.FileCount,
		AffectedLines:       op.LineCount,
		Reversible:          op.Reversible,
		EstimatedDurationMs: op.EstimatedDurMs,
	}

	// Step 7: derive requires_confirmation.
	requiresConfirmation := risk > c.cfg.AutoConfirmThreshold ||
		requiresByPattern ||
		(!op.Reversible && risk >= task.RiskMedium) ||
		batchExceeded

	guard := &task.OperationGuard{
		OperationType:        op.OperationType,
		CommandString:        op.CommandString,
		RiskLevel:            risk,
		Targets:              targets,
		DetectedPatterns:     matched,
		ExpectedImpact:       impact,
		RequiresConfirmation: requiresConfirmation,
		RollbackPlan:         buildRollbackPlan(op),
	}
	return guard, nil
}

func markProtected(targets []task.Target, protectedPaths []string) []task.Target {
	out := make([]task.Target, len(targets))
	copy(out, targets)
	for i := range out {
		out[i].IsProtected = isProtectedPath(out[i].Path, protectedPaths)
	}
	return out
}

// isProtectedPath does a prefix match on the normalized path against each
// protected-path entry, per spec.md §4.5 step 4.
func isProtectedPath(path string, protectedPaths []string) bool {
	normalized := filepath.ToSlash(filepath.Clean(path))
	for _, protected := range protectedPaths {
		p := strings.TrimSuffix(filepath.ToSlash(protected), "/")
		if normalized == p || strings.HasPrefix(normalized, p+"/") || strings.Contains(normalized, "/"+p+"/") {
			return true
		}
		// Dotfile/directory-fragment entries like ".env" or "secrets/" may
		// appear anywhere in the path, not just at its root.
		if strings.HasSuffix(normalized, "/"+p) || normalized == p {
			return true
		}
	}
	return false
}

func exceedsBatchThreshold(op PendingOperation, cfg Config) bool {
	if cfg.FileCountThreshold > 0 && op.FileCount > cfg.FileCountThreshold {
		return true
	}
	if cfg.LineCountThreshold > 0 && op.LineCount > cfg.LineCountThreshold {
		return true
	}
	if cfg.SizeThresholdBytes > 0 && op.SizeBytes > cfg.SizeThresholdBytes {
		return true
	}
	return false
}

// buildRollbackPlan opportunistically builds the inverse-operation sequence
// per spec.md §4.5 step 8: Create -> Delete; Modify with snapshot ->
// Restore; Delete without snapshot -> none.
func buildRollbackPlan(op PendingOperation) *task.RollbackPlan {
	var steps []task.RollbackStep

	switch op.OperationType {
	case task.OpFileCreate, task.OpDirectoryCreate:
		for _, t := range op.Targets {
			steps = append(steps, task.RollbackStep{OperationType: task.OpFileDelete, Path: t.Path})
		}
	case task.OpFileModify, task.OpFileMassModify:
		if op.HasSnapshot {
			for _, t := range op.Targets {
				steps = append(steps, task.RollbackStep{OperationType: task.OpFileModify, Path: t.Path, SnapshotID: t.Snapshot})
			}
		}
	case task.OpFileDelete, task.OpDirectoryDelete:
		if op.HasSnapshot {
			for _, t := range op.Targets {
				steps = append(steps, task.RollbackStep{OperationType: task.OpFileCreate, Path: t.Path, SnapshotID: t.Snapshot})
			}
		}
		// Delete without a snapshot has no rollback plan.
	}

	if len(steps) == 0 {
		return nil
	}
	return &task.RollbackPlan{Steps: steps, ValidUntil: time.Now().Add(1 * time.Hour)}
}
