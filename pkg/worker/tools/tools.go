// Package tools implements the closed set of agent tools: worktree file
// I/O, a sandboxed shell command, and the HTTP-backed create_task tool for
// task-creator agents. Tools never return Go errors across the boundary;
// failures are strings beginning with "Error:" so the agent loop's error
// surface stays flat.
package tools

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// Tool names.
const (
	ToolReadFile   = "read_file"
	ToolWriteFile  = "write_file"
	ToolListFiles  = "list_files"
	ToolRunCommand = "run_command"
	ToolCreateTask = "create_task"
)

// RoleTaskCreator is the agent role whose only tool is create_task.
const RoleTaskCreator = "task-creator"

// ForRole returns the tool definitions exposed to an agent. Task-creator
// agents get create_task only; other roles get the worktree tools when a
// worktree is configured, and no tools otherwise (text-only agent).
func ForRole(role, worktreePath string) []anthropic.ToolUnionParam {
	if role == RoleTaskCreator {
		return []anthropic.ToolUnionParam{createTaskTool()}
	}
	if worktreePath == "" {
		return nil
	}
	return []anthropic.ToolUnionParam{
		readFileTool(),
		writeFileTool(),
		listFilesTool(),
		runCommandTool(),
	}
}

func readFileTool() anthropic.ToolUnionParam {
	return toolOf(ToolReadFile,
		"Read the contents of a file inside the worktree.",
		map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the worktree root",
			},
		},
		[]string{"path"})
}

func writeFileTool() anthropic.ToolUnionParam {
	return toolOf(ToolWriteFile,
		"Write content to a file inside the worktree, creating parent directories as needed. Overwrites existing content.",
		map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the worktree root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file content to write",
			},
		},
		[]string{"path", "content"})
}

func listFilesTool() anthropic.ToolUnionParam {
	return toolOf(ToolListFiles,
		"List the entries of a directory inside the worktree, sorted by name.",
		map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path relative to the worktree root (default \".\")",
			},
		},
		nil)
}

func runCommandTool() anthropic.ToolUnionParam {
	return toolOf(ToolRunCommand,
		"Run a shell command with the worktree as working directory. Output is stdout+stderr; commands are killed after 60 seconds.",
		map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		[]string{"command"})
}

func createTaskTool() anthropic.ToolUnionParam {
	return toolOf(ToolCreateTask,
		"Create a task in the backlog.",
		map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short task title",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Task description",
			},
			"priority": map[string]any{
				"type":        "integer",
				"description": "Priority from 0 (lowest) to 100 (highest), default 50",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Labels to attach",
			},
			"project": map[string]any{
				"type":        "string",
				"description": "Project name",
			},
			"estimated_hours": map[string]any{
				"type":        "number",
				"description": "Estimated effort in hours",
			},
		},
		[]string{"title"})
}

// toolOf builds a tool definition with a JSON-schema object body.
func toolOf(name, description string, properties map[string]any, required []string) anthropic.ToolUnionParam {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	u := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{ExtraFields: schema}, name)
	if u.OfTool != nil {
		u.OfTool.Description = anthropic.String(description)
	}
	return u
}
