package vigil

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/mod/modfile"
)

// ClocCheck flags files that exceed the configured line limits. Test files
// get their own, usually more generous, threshold.
type ClocCheck struct{}

func (c *ClocCheck) Name() string        { return "cloc" }
func (c *ClocCheck) Description() string { return "Lines of code and file size limits" }

func (c *ClocCheck) Run(path string, content []byte, ctx *CheckContext) ([]Violation, error) {
	if strings.HasSuffix(path, "go.mod") {
		return nil, nil
	}

	cfg := ctx.Cfg.Checks.Cloc
	limit := cfg.MaxLines
	if isTestFile(path) {
		limit = cfg.MaxLinesTest
	}
	if limit <= 0 {
		return nil, nil
	}

	lines := countLines(content)
	if lines <= limit {
		return nil, nil
	}

	return []Violation{{
		Check:     c.Name(),
		File:      path,
		Kind:      "file_too_long",
		Advice:    fmt.Sprintf("Split %s into smaller files (%d lines, limit %d)", path, lines, limit),
		Value:     int64(lines),
		Threshold: int64(limit),
	}}, nil
}

// EscapesCheck detects escape-hatch patterns: constructs that bypass type
// safety or suppress findings instead of fixing them.
type EscapesCheck struct{}

func (c *EscapesCheck) Name() string        { return "escapes" }
func (c *EscapesCheck) Description() string { return "Escape hatch detection" }

func (c *EscapesCheck) Run(path string, content []byte, ctx *CheckContext) ([]Violation, error) {
	if strings.HasSuffix(path, "go.mod") {
		return nil, nil
	}

	var violations []Violation
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		for _, p := range ctx.Cfg.Checks.Escapes.Patterns {
			if p.Pattern == "" || !strings.Contains(line, p.Pattern) {
				continue
			}
			violations = append(violations, Violation{
				Check:   c.Name(),
				File:    path,
				Line:    i + 1,
				Kind:    "escape_hatch",
				Advice:  p.Advice,
				Pattern: p.Name,
			})
		}
	}

	return violations, nil
}

// LicenseCheck verifies that source files begin with the configured
// license header.
type LicenseCheck struct{}

func (c *LicenseCheck) Name() string        { return "license" }
func (c *LicenseCheck) Description() string { return "License header presence" }

func (c *LicenseCheck) Run(path string, content []byte, ctx *CheckContext) ([]Violation, error) {
	header := ctx.Cfg.Checks.License.Header
	if header == "" || strings.HasSuffix(path, "go.mod") {
		return nil, nil
	}

	// Only the top of the file counts as a header position.
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.Contains(head, []byte(header)) {
		return nil, nil
	}

	return []Violation{{
		Check:  c.Name(),
		File:   path,
		Line:   1,
		Kind:   "missing_license",
		Advice: fmt.Sprintf("Add the license header %q to the top of %s", header, path),
	}}, nil
}

// BuildCheck inspects go.mod for hygiene problems: unparseable files,
// missing module declarations, and replace directives that must not ship.
type BuildCheck struct{}

func (c *BuildCheck) Name() string        { return "build" }
func (c *BuildCheck) Description() string { return "Module file hygiene" }

func (c *BuildCheck) Run(path string, content []byte, ctx *CheckContext) ([]Violation, error) {
	if !strings.HasSuffix(path, "go.mod") {
		return nil, nil
	}

	f, err := modfile.Parse(path, content, nil)
	if err != nil {
		return []Violation{{
			Check:  c.Name(),
			File:   path,
			Kind:   "unparseable_modfile",
			Advice: fmt.Sprintf("Fix go.mod syntax: %v", err),
		}}, nil
	}

	var violations []Violation
	if f.Module == nil || f.Module.Mod.Path == "" {
		violations = append(violations, Violation{
			Check:  c.Name(),
			File:   path,
			Kind:   "missing_module",
			Advice: "Declare a module path in go.mod",
		})
	}
	for _, r := range f.Replace {
		violations = append(violations, Violation{
			Check:  c.Name(),
			File:   path,
			Line:   r.Syntax.Start.Line,
			Kind:   "replace_directive",
			Advice: fmt.Sprintf("Remove the replace directive for %s before release", r.Old.Path),
		})
	}

	return violations, nil
}

// isTestFile reports whether a path follows the Go test naming convention.
func isTestFile(path string) bool {
	return strings.HasSuffix(path, "_test.go")
}

// countLines counts newline-terminated lines plus a trailing partial line.
func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	lines := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		lines++
	}
	return lines
}
