package permission

import "strings"

// Built-in tool names understood by the matcher.
const (
	ToolBash         = "Bash"
	ToolRead         = "Read"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolMultiEdit    = "MultiEdit"
	ToolNotebookRead = "NotebookRead"
	ToolNotebookEdit = "NotebookEdit"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolLS           = "LS"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
	ToolTask         = "Task"
	ToolTodoWrite    = "TodoWrite"

	mcpToolPrefix = "mcp__"
)

// KnownTools lists the built-in tool names, used by rule lint.
var KnownTools = []string{
	ToolBash, ToolRead, ToolWrite, ToolEdit, ToolMultiEdit,
	ToolNotebookRead, ToolNotebookEdit, ToolGlob, ToolGrep, ToolLS,
	ToolWebFetch, ToolWebSearch, ToolTask, ToolTodoWrite,
}

// toolFamilies maps a rule tool name to the invocation tools it also covers.
var toolFamilies = map[string][]string{
	ToolEdit: {ToolWrite, ToolMultiEdit, ToolNotebookEdit},
	ToolRead: {ToolGlob, ToolGrep, ToolLS, ToolNotebookRead},
}

// pathTools take a filesystem path as their invocation content.
var pathTools = map[string]bool{
	ToolRead:         true,
	ToolWrite:        true,
	ToolEdit:         true,
	ToolMultiEdit:    true,
	ToolNotebookRead: true,
	ToolNotebookEdit: true,
	ToolGlob:         true,
	ToolGrep:         true,
	ToolLS:           true,
}

// readTools are the read/search tools subject to ignore patterns.
var readTools = map[string]bool{
	ToolRead:         true,
	ToolNotebookRead: true,
	ToolGlob:         true,
	ToolGrep:         true,
	ToolLS:           true,
}

// IsPathTool reports whether toolName's content is a filesystem path.
func IsPathTool(toolName string) bool {
	return pathTools[toolName]
}

// IsReadTool reports whether toolName reads or searches the filesystem.
func IsReadTool(toolName string) bool {
	return readTools[toolName]
}

// IsEditTool reports whether toolName modifies files.
func IsEditTool(toolName string) bool {
	return pathTools[toolName] && !readTools[toolName]
}

// ToolMatches reports whether a rule written for ruleTool applies to an
// invocation of toolName.
func ToolMatches(ruleTool, toolName string) bool {
	if ruleTool == toolName {
		return true
	}
	for _, member := range toolFamilies[ruleTool] {
		if member == toolName {
			return true
		}
	}
	// "mcp__server" covers every tool the server exposes.
	if strings.HasPrefix(ruleTool, mcpToolPrefix) && strings.Count(ruleTool, "__") == 1 {
		return strings.HasPrefix(toolName, ruleTool+"__")
	}
	return false
}

// inputKeys lists, per tool, the input fields holding the matchable content.
var inputKeys = map[string][]string{
	ToolBash:         {"command"},
	ToolRead:         {"file_path"},
	ToolWrite:        {"file_path"},
	ToolEdit:         {"file_path"},
	ToolMultiEdit:    {"file_path"},
	ToolNotebookRead: {"notebook_path"},
	ToolNotebookEdit: {"notebook_path"},
	ToolGlob:         {"path"},
	ToolGrep:         {"path"},
	ToolLS:           {"path"},
	ToolWebFetch:     {"url"},
	ToolWebSearch:    {"query"},
}

// ContentFromInput extracts the invocation content from a raw tool input.
// Search tools without an explicit path search the project root.
func ContentFromInput(toolName string, input map[string]any) string {
	for _, key := range inputKeys[toolName] {
		if s, ok := input[key].(string); ok && s != "" {
			return s
		}
	}
	switch toolName {
	case ToolGlob, ToolGrep, ToolLS:
		return "."
	}
	return ""
}

// InputFromContent builds a minimal raw input carrying content, the inverse
// of ContentFromInput. Tools without a known content field get "content".
func InputFromContent(toolName, content string) map[string]any {
	if content == "" {
		return map[string]any{}
	}
	if keys := inputKeys[toolName]; len(keys) > 0 {
		return map[string]any{keys[0]: content}
	}
	return map[string]any{"content": content}
}
