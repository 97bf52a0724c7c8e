package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	commandTimeout    = 60 * time.Second
	createTaskTimeout = 10 * time.Second
)

// FileRecorder observes successful write_file calls. Satisfied by the
// universe's shared state, which keeps the file manifest other agents
// read.
type FileRecorder interface {
	RecordFile(path string)
}

// Executor runs tools against a per-universe worktree. All paths are
// resolved under the worktree root; escapes are rejected.
type Executor struct {
	worktreePath string
	apiBase      string
	recorder     FileRecorder
	httpClient   *http.Client
}

// NewExecutor creates an Executor. worktreePath may be empty for agents
// without file tools; apiBase is the control-plane base URL used by
// create_task; recorder may be nil.
func NewExecutor(worktreePath, apiBase string, recorder FileRecorder) *Executor {
	return &Executor{
		worktreePath: worktreePath,
		apiBase:      apiBase,
		recorder:     recorder,
		httpClient:   &http.Client{Timeout: createTaskTimeout},
	}
}

// Execute runs one named tool. The result is always a single string;
// failures are "Error: …" strings, never Go errors.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) string {
	switch name {
	case ToolReadFile:
		return e.readFile(input)
	case ToolWriteFile:
		return e.writeFile(input)
	case ToolListFiles:
		return e.listFiles(input)
	case ToolRunCommand:
		return e.runCommand(ctx, input)
	case ToolCreateTask:
		return e.createTask(ctx, input)
	}
	return fmt.Sprintf("Error: unknown tool %q", name)
}

func (e *Executor) readFile(input json.RawMessage) string {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "Error: invalid read_file input: " + err.Error()
	}
	path, err := e.resolve(args.Path)
	if err != nil {
		return err.Error()
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return fmt.Sprintf("Error: file not found: %s", args.Path)
		}
		return "Error: " + readErr.Error()
	}
	return string(data)
}

func (e *Executor) writeFile(input json.RawMessage) string {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "Error: invalid write_file input: " + err.Error()
	}
	path, err := e.resolve(args.Path)
	if err != nil {
		return err.Error()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "Error: " + err.Error()
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "Error: " + err.Error()
	}
	if e.recorder != nil {
		e.recorder.RecordFile(args.Path)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.Path)
}

func (e *Executor) listFiles(input json.RawMessage) string {
	var args struct {
		Path string `json:"path"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "Error: invalid list_files input: " + err.Error()
		}
	}
	if args.Path == "" {
		args.Path = "."
	}
	path, err := e.resolve(args.Path)
	if err != nil {
		return err.Error()
	}
	entries, readErr := os.ReadDir(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return fmt.Sprintf("Error: directory not found: %s", args.Path)
		}
		return "Error: " + readErr.Error()
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

func (e *Executor) runCommand(ctx context.Context, input json.RawMessage) string {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "Error: invalid run_command input: " + err.Error()
	}
	if strings.TrimSpace(args.Command) == "" {
		return "Error: command is empty"
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", args.Command)
	cmd.Dir = e.worktreePath
	output, err := cmd.CombinedOutput()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %s", commandTimeout)
	}
	result := string(output)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Sprintf("%s\n(exit code %d)", result, exitErr.ExitCode())
		}
		return "Error: " + err.Error()
	}
	return result
}

func (e *Executor) createTask(ctx context.Context, input json.RawMessage) string {
	var args struct {
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		Priority       int      `json:"priority"`
		Tags           []string `json:"tags"`
		Project        string   `json:"project"`
		EstimatedHours float64  `json:"estimated_hours"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "Error: invalid create_task input: " + err.Error()
	}
	if args.Title == "" {
		return "Error: title is required"
	}
	if args.Priority == 0 {
		args.Priority = 50
	}

	payload, err := json.Marshal(map[string]any{
		"title":           args.Title,
		"description":     args.Description,
		"priority":        args.Priority,
		"tags":            args.Tags,
		"project":         args.Project,
		"estimated_hours": args.EstimatedHours,
	})
	if err != nil {
		return "Error: " + err.Error()
	}

	url := strings.TrimRight(e.apiBase, "/") + "/tasks"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "Error: " + err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "Error: task creation failed: " + err.Error()
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Sprintf("Error: task creation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Sprintf("Created task %q", args.Title)
}

// resolve maps a relative path onto the worktree and rejects escapes.
func (e *Executor) resolve(rel string) (string, *traversalError) {
	if e.worktreePath == "" {
		return "", &traversalError{path: rel, reason: "no worktree configured"}
	}
	root, err := filepath.Abs(e.worktreePath)
	if err != nil {
		return "", &traversalError{path: rel, reason: err.Error()}
	}
	resolved := filepath.Clean(filepath.Join(root, rel))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", &traversalError{path: rel}
	}
	return resolved, nil
}

// traversalError formats as the flat "Error: …" string the agent loop
// expects.
type traversalError struct {
	path   string
	reason string
}

func (t *traversalError) Error() string {
	if t.reason != "" {
		return fmt.Sprintf("Error: Path traversal blocked: %s (%s)", t.path, t.reason)
	}
	return fmt.Sprintf("Error: Path traversal blocked: %s", t.path)
}
