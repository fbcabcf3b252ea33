package agenttools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kairo.dev/agent/internal/agent"
)

const (
	maxGlobResults   = 100
	maxGrepMatches   = 50
	maxReadLines     = 500
	defaultReadLines = 200
	maxLineLength    = 2000
	fsToolTimeout    = 5 * time.Second
)

// GlobParams mirrors the teacher's file-pattern-matching tool arguments.
type GlobParams struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern to match files (e.g. '**/*.go')"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search in. Defaults to repo root."`
}

// GrepParams mirrors the teacher's content-search tool arguments.
type GrepParams struct {
	Pattern    string `json:"pattern" jsonschema:"required,description=Regex pattern to search for in file contents"`
	Path       string `json:"path,omitempty" jsonschema:"description=File or directory to search. Defaults to repo root."`
	Glob       string `json:"glob,omitempty" jsonschema:"description=Filter files by glob pattern"`
	IgnoreCase bool   `json:"ignore_case,omitempty"`
	Context    int    `json:"context,omitempty"`
}

// ReadParams mirrors the teacher's file-reading tool arguments.
type ReadParams struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Path to the file to read, relative to repo root"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=Line number to start reading from (1-indexed)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Number of lines to read (default 200, max 500)"`
}

// FSTools holds the repo root glob/grep/read are confined to; every path
// they touch is validated to stay within it, same discipline as the
// teacher's ExploreTools (see pathWithinRoot there).
type FSTools struct {
	RepoRoot string
}

// Register adds glob, grep, and read to the registry, rooted at f.RepoRoot.
func (f FSTools) Register(registry *agent.ToolRegistry) error {
	specs := []agent.ToolSpec{f.globSpec(), f.grepSpec(), f.readSpec()}
	for _, s := range specs {
		if err := registry.Register(s); err != nil {
			return fmt.Errorf("registering %s: %w", s.Name, err)
		}
	}
	return nil
}

func (f FSTools) globSpec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "glob",
		Description: "Find files by pattern, sorted by path.",
		ArgSchema:   schemaFor(GlobParams{}),
		Idempotent:  true,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p GlobParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			return f.runGlob(ctx, p)
		}),
	}
}

func (f FSTools) runGlob(ctx context.Context, p GlobParams) (agent.ToolResult, error) {
	searchPath := f.RepoRoot
	if p.Path != "" {
		searchPath = filepath.Join(f.RepoRoot, p.Path)
	}
	if !pathWithinRoot(f.RepoRoot, searchPath) {
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: "path outside repository"}, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, fsToolTimeout)
	defer cancel()

	args := []string{"--type", "f", "--hidden", "--no-ignore",
		"--exclude", ".git", "--exclude", "node_modules", "--exclude", "vendor",
		"--glob", p.Pattern}
	cmd := exec.CommandContext(timeoutCtx, "fd", args...)
	cmd.Dir = searchPath
	output, err := cmd.Output()
	if err != nil {
		cmd = exec.CommandContext(timeoutCtx, "find", searchPath, "-type", "f", "-name", p.Pattern)
		output, err = cmd.Output()
		if err != nil {
			if timeoutCtx.Err() != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTimeout, ErrorDetail: "glob search timed out"}, nil
			}
			return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
		}
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		full := line
		if !filepath.IsAbs(full) {
			full = filepath.Join(searchPath, line)
		}
		rel, err := filepath.Rel(f.RepoRoot, full)
		if err != nil {
			continue
		}
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	if len(paths) > maxGlobResults {
		paths = paths[:maxGlobResults]
	}

	out, _ := json.Marshal(map[string]any{"matches": paths})
	return agent.ToolResult{Success: true, Output: out}, nil
}

func (f FSTools) grepSpec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "grep",
		Description: "Search file contents for a regex pattern using ripgrep.",
		ArgSchema:   schemaFor(GrepParams{}),
		Idempotent:  true,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p GrepParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			return f.runGrep(ctx, p)
		}),
	}
}

func (f FSTools) runGrep(ctx context.Context, p GrepParams) (agent.ToolResult, error) {
	searchPath := f.RepoRoot
	if p.Path != "" {
		searchPath = filepath.Join(f.RepoRoot, p.Path)
	}
	if !pathWithinRoot(f.RepoRoot, searchPath) {
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: "path outside repository"}, nil
	}

	args := []string{"-n", "--no-heading", "--color=never"}
	if p.IgnoreCase {
		args = append(args, "-i")
	}
	if p.Context > 0 {
		args = append(args, fmt.Sprintf("-C%d", p.Context))
	}
	if p.Glob != "" {
		args = append(args, "-g", p.Glob)
	}
	args = append(args, p.Pattern, searchPath)

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(bashTimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, "rg", args...)
	output, err := cmd.Output()
	if timeoutCtx.Err() != nil {
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTimeout, ErrorDetail: "grep search timed out"}, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			out, _ := json.Marshal(map[string]any{"matches": []string{}})
			return agent.ToolResult{Success: true, Output: out}, nil
		}
		if len(output) == 0 {
			return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
		}
	}

	lines := strings.Split(strings.TrimRight(string(output), "\n"), "\n")
	if len(lines) > maxGrepMatches {
		lines = lines[:maxGrepMatches]
	}
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, f.RepoRoot+"/")
	}

	out, _ := json.Marshal(map[string]any{"matches": lines})
	return agent.ToolResult{Success: true, Output: out}, nil
}

func (f FSTools) readSpec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "read",
		Description: "Read a file, optionally starting at a line offset with a line limit.",
		ArgSchema:   schemaFor(ReadParams{}),
		Idempotent:  true,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p ReadParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			return f.runRead(p)
		}),
	}
}

func (f FSTools) runRead(p ReadParams) (agent.ToolResult, error) {
	fullPath := filepath.Join(f.RepoRoot, p.FilePath)
	if !pathWithinRoot(f.RepoRoot, fullPath) {
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: "path outside repository"}, nil
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: "file not found"}, nil
		}
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
	}
	defer file.Close()

	offset := p.Offset
	if offset < 1 {
		offset = 1
	}
	limit := p.Limit
	if limit < 1 {
		limit = defaultReadLines
	}
	if limit > maxReadLines {
		limit = maxReadLines
	}

	scanner := bufio.NewScanner(file)
	var lines []string
	lineNum := 0
	read := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if read >= limit {
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		lines = append(lines, line)
		read++
	}

	out, _ := json.Marshal(map[string]any{
		"lines":      lines,
		"start_line": offset,
		"end_line":   offset + read - 1,
	})
	return agent.ToolResult{Success: true, Output: out}, nil
}

// pathWithinRoot reports whether path is root or a descendant of it,
// grounded on explore_tools.go's pathWithinRoot guard against path
// traversal outside the repo.
func pathWithinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
