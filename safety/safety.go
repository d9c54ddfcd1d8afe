// Package safety implements the Safety Validator (C2): pre-dispatch checks
// that every path- or command-touching tool invocation passes through before
// the underlying operation runs. Grounded on core/tool_error.go's
// Code/Category/Message error-reporting shape, generalized from a
// tool-to-agent protocol into a validation-rejection protocol.
package safety

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Category mirrors the teacher's ErrorCategory vocabulary (core/tool_error.go)
// for the one category this package needs.
const CategoryValidation = "VALIDATION_ERROR"

// Error is returned when a tool invocation fails a safety check, matching
// spec.md §4.6's `ToolError { ValidationFailed, reason }`.
type Error struct {
	Code   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Reason)
}

func rejected(reason string) *Error {
	return &Error{Code: "ValidationFailed", Reason: reason}
}

// Config configures the validator, mirroring corecfg.ToolsConfig's
// sandbox/whitelist/blocklist fields.
type Config struct {
	SandboxRoot           string
	AllowedPaths          []string
	ForbiddenCommands     []string
	CommandWhitelist      []string
	MaxCommandTimeoutSecs int
}

// Validator implements the Safety Validator (C2).
type Validator struct {
	cfg Config
}

// New constructs a Validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidatePath rejects a path that escapes the sandbox root or falls outside
// allowed_paths (when that list is non-empty), per spec.md §4.6.
func (v *Validator) ValidatePath(path string) error {
	resolved := resolve(v.cfg.SandboxRoot, path)

	if v.cfg.SandboxRoot != "" {
		root := resolve(v.cfg.SandboxRoot, "")
		if !withinRoot(root, resolved) {
			return rejected(fmt.Sprintf("path %q escapes sandbox root %q", path, v.cfg.SandboxRoot))
		}
	}

	if len(v.cfg.AllowedPaths) > 0 {
		allowed := false
		for _, p := range v.cfg.AllowedPaths {
			if withinRoot(resolve(v.cfg.SandboxRoot, p), resolved) {
				allowed = true
				break
			}
		}
		if !allowed {
			return rejected(fmt.Sprintf("path %q is outside the allowed set", path))
		}
	}

	return nil
}

// ValidateCommand rejects a command string containing a forbidden
// substring, or — if a whitelist is configured — not prefixed by any
// whitelist entry, per spec.md §4.6.
func (v *Validator) ValidateCommand(command string) error {
	for _, forbidden := range v.cfg.ForbiddenCommands {
		if forbidden != "" && strings.Contains(command, forbidden) {
			return rejected(fmt.Sprintf("command contains forbidden substring %q", forbidden))
		}
	}

	if len(v.cfg.CommandWhitelist) > 0 {
		allowed := false
		trimmed := strings.TrimSpace(command)
		for _, prefix := range v.cfg.CommandWhitelist {
			if strings.HasPrefix(trimmed, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return rejected("command does not match any whitelist entry")
		}
	}

	return nil
}

// ValidateTimeout rejects a declared timeout that exceeds the service cap.
func (v *Validator) ValidateTimeout(timeout time.Duration) error {
	if v.cfg.MaxCommandTimeoutSecs <= 0 {
		return nil
	}
	if timeout > time.Duration(v.cfg.MaxCommandTimeoutSecs)*time.Second {
		return rejected(fmt.Sprintf("timeout %s exceeds service cap of %ds", timeout, v.cfg.MaxCommandTimeoutSecs))
	}
	return nil
}

func resolve(root, path string) string {
	if root == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return filepath.Clean(path)
		}
		return abs
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(root, path))
}

func withinRoot(root, resolved string) bool {
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
