package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/avalonlabs/taskrunner/safety"
)

// readFileTool implements spec.md §4.6's read_file{path}: read entire file
// as UTF-8, failing on non-existence or non-text content.
type readFileTool struct {
	validator *safety.Validator
}

func NewReadFileTool(validator *safety.Validator) Tool { return &readFileTool{validator: validator} }

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) Description() string { return "Reads a file's entire contents as UTF-8 text." }
func (t *readFileTool) Parameters() []Parameter {
	return []Parameter{{Name: "path", Type: "string", Required: true}}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("read_file: missing required argument %q", "path")
	}
	if err := t.validator.ValidatePath(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	if !isValidUTF8Text(data) {
		return nil, fmt.Errorf("read_file: %q does not contain valid UTF-8 text", path)
	}
	return string(data), nil
}

// writeFileTool implements spec.md §4.6's write_file{path, content}: write
// UTF-8, create parent directories, and back up an existing target to
// path+".bak" before overwrite, best-effort.
type writeFileTool struct {
	validator *safety.Validator
}

func NewWriteFileTool(validator *safety.Validator) Tool { return &writeFileTool{validator: validator} }

func (t *writeFileTool) Name() string { return "write_file" }
func (t *writeFileTool) Description() string {
	return "Writes UTF-8 content to a file, backing up any existing file first."
}
func (t *writeFileTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Type: "string", Required: true},
		{Name: "content", Type: "string", Required: true},
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("write_file: missing required argument %q", "path")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return nil, fmt.Errorf("write_file: missing required argument %q", "content")
	}
	if err := t.validator.ValidatePath(path); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("write_file: failed to create parent directories: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		// Best-effort backup; a failure here does not block the write.
		if existing, readErr := os.ReadFile(path); readErr == nil {
			_ = os.WriteFile(path+".bak", existing, 0o644)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return map[string]interface{}{"path": path, "bytes_written": len(content)}, nil
}

// listFilesTool implements spec.md §4.6's list_files{path, glob?}.
type listFilesTool struct {
	validator *safety.Validator
}

func NewListFilesTool(validator *safety.Validator) Tool { return &listFilesTool{validator: validator} }

func (t *listFilesTool) Name() string        { return "list_files" }
func (t *listFilesTool) Description() string { return "Lists the children of a directory, optionally filtered by glob." }
func (t *listFilesTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Type: "string", Required: true},
		{Name: "glob", Type: "string", Required: false},
	}
}

func (t *listFilesTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("list_files: missing required argument %q", "path")
	}
	if err := t.validator.ValidatePath(path); err != nil {
		return nil, err
	}
	glob, _ := stringArg(args, "glob")

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list_files: %w", err)
	}

	var names []string
	for _, e := range entries {
		if glob != "" {
			matched, matchErr := filepath.Match(glob, e.Name())
			if matchErr != nil {
				return nil, fmt.Errorf("list_files: invalid glob %q: %w", glob, matchErr)
			}
			if !matched {
				continue
			}
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// runCommandTool implements spec.md §4.6's run_command{command, working_dir?,
// timeout_secs?}: execute via the system shell, capturing stdout/stderr and
// enforcing a timeout.
type runCommandTool struct {
	validator      *safety.Validator
	defaultTimeout time.Duration
}

func NewRunCommandTool(validator *safety.Validator, defaultTimeout time.Duration) Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &runCommandTool{validator: validator, defaultTimeout: defaultTimeout}
}

func (t *runCommandTool) Name() string        { return "run_command" }
func (t *runCommandTool) Description() string { return "Executes a shell command, capturing stdout/stderr." }
func (t *runCommandTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "command", Type: "string", Required: true},
		{Name: "working_dir", Type: "string", Required: false},
		{Name: "timeout_secs", Type: "integer", Required: false},
	}
}

func (t *runCommandTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return nil, fmt.Errorf("run_command: missing required argument %q", "command")
	}
	if err := t.validator.ValidateCommand(command); err != nil {
		return nil, err
	}

	timeout := t.defaultTimeout
	if secs, ok := args["timeout_secs"]; ok {
		if n, ok := toInt(secs); ok {
			timeout = time.Duration(n) * time.Second
		}
	}
	if err := t.validator.ValidateTimeout(timeout); err != nil {
		return nil, err
	}

	workingDir, _ := stringArg(args, "working_dir")
	if workingDir != "" {
		if err := t.validator.ValidatePath(workingDir); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := map[string]interface{}{
		"stdout": stdout.String(),
		"stderr": stderr.String(),
	}
	if runCtx.Err() != nil {
		return result, fmt.Errorf("run_command: timed out after %s", timeout)
	}
	if runErr != nil {
		return result, fmt.Errorf("run_command: %w", runErr)
	}
	return result, nil
}

func isValidUTF8Text(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
