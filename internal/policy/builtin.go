package policy

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
)

// Priorities of the built-in policies. Allow-listing runs first so a tool
// outside the session's allow-list is rejected before deeper inspection.
const (
	PriorityAllowlist = 10
	PriorityCommand   = 20
	PriorityPath      = 30
	PrioritySchema    = 40
)

// matchesPattern checks toolName against a pattern list supporting "*",
// "prefix*" and "*suffix" forms.
func matchesPattern(patterns []string, toolName string) bool {
	tool := strings.ToLower(strings.TrimSpace(toolName))
	for _, pattern := range patterns {
		p := strings.ToLower(strings.TrimSpace(pattern))
		if p == "" {
			continue
		}
		if p == "*" || p == tool {
			return true
		}
		if len(p) > 1 && p[len(p)-1] == '*' && strings.HasPrefix(tool, p[:len(p)-1]) {
			return true
		}
		if len(p) > 1 && p[0] == '*' && strings.HasSuffix(tool, p[1:]) {
			return true
		}
	}
	return false
}

// ToolAllowlist denies any tool not present in the session's allow-list.
// An empty allow-list permits every tool.
type ToolAllowlist struct {
	Allowed []string
}

func (p *ToolAllowlist) Name() string          { return "tool_allowlist" }
func (p *ToolAllowlist) Priority() int         { return PriorityAllowlist }
func (p *ToolAllowlist) AppliesTo(string) bool { return len(p.Allowed) > 0 }

func (p *ToolAllowlist) Evaluate(ctx context.Context, req *Request) Decision {
	if matchesPattern(p.Allowed, req.Tool) {
		return Allowed()
	}
	return Denied("tool " + req.Tool + " is not in the session allow-list")
}

// Shell command screening patterns.
var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")

	// destructivePatterns match commands dangerous enough to abort the
	// whole session rather than skip a single call.
	destructivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*(/|~|\$HOME)(\s|$)`),
		regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
		regexp.MustCompile(`\bdd\s+[^|]*of=/dev/`),
		regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
		regexp.MustCompile(`\bshutdown\b|\breboot\b`),
	}
)

// CommandSafety screens shell-executing tools for metacharacter abuse and
// destructive commands. Destructive matches deny with interrupt semantics.
type CommandSafety struct {
	// Tools lists tool name patterns this policy covers.
	// Defaults to bash/shell/exec when empty.
	Tools []string

	// AllowMetachars permits shell metacharacters (pipes, subshells).
	// Destructive patterns are denied regardless.
	AllowMetachars bool
}

func (p *CommandSafety) Name() string  { return "command_safety" }
func (p *CommandSafety) Priority() int { return PriorityCommand }

func (p *CommandSafety) AppliesTo(tool string) bool {
	patterns := p.Tools
	if len(patterns) == 0 {
		patterns = []string{"bash", "shell", "exec*"}
	}
	return matchesPattern(patterns, tool)
}

func (p *CommandSafety) Evaluate(ctx context.Context, req *Request) Decision {
	command := extractStringField(req.Input, "command")
	if command == "" {
		return Denied("command input is empty")
	}
	if strings.Contains(command, "\x00") {
		return Denied("command contains null byte")
	}
	for _, pattern := range destructivePatterns {
		if pattern.MatchString(command) {
			return DeniedInterrupt("destructive command blocked: " + pattern.String())
		}
	}
	if !p.AllowMetachars && shellMetachars.MatchString(command) {
		return Denied("command contains shell metacharacters")
	}
	return Allowed()
}

// PathGuard restricts file tools to a set of workspace roots.
type PathGuard struct {
	// Tools lists tool name patterns this policy covers.
	// Defaults to read/write/edit/file* when empty.
	Tools []string

	// Roots are absolute directories file paths must resolve under.
	Roots []string
}

func (p *PathGuard) Name() string  { return "path_guard" }
func (p *PathGuard) Priority() int { return PriorityPath }

func (p *PathGuard) AppliesTo(tool string) bool {
	patterns := p.Tools
	if len(patterns) == 0 {
		patterns = []string{"read", "write", "edit", "file*"}
	}
	return matchesPattern(patterns, tool)
}

func (p *PathGuard) Evaluate(ctx context.Context, req *Request) Decision {
	path := extractStringField(req.Input, "path")
	if path == "" {
		path = extractStringField(req.Input, "file_path")
	}
	if path == "" {
		return Denied("file tool input has no path")
	}
	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) {
		// Relative paths resolve inside the workspace by construction.
		return Allowed()
	}
	for _, root := range p.Roots {
		root = filepath.Clean(root)
		if cleaned == root || strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
			return Allowed()
		}
	}
	return Denied("path " + cleaned + " is outside the allowed workspace roots")
}

// extractStringField pulls a top-level string field out of raw tool input.
func extractStringField(input json.RawMessage, field string) string {
	if len(input) == 0 {
		return ""
	}
	var parsed map[string]any
	if err := json.Unmarshal(input, &parsed); err != nil {
		return ""
	}
	if v, ok := parsed[field].(string); ok {
		return v
	}
	return ""
}
