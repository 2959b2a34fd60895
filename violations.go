package vigil

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Violation represents a single finding produced by a check.
type Violation struct {
	Check     string `json:"check"`               // The check that produced this violation
	File      string `json:"file"`                // The file where the violation was found
	Line      int    `json:"line,omitempty"`      // 1-indexed line number, 0 when not applicable
	Kind      string `json:"kind"`                // Violation category (check-specific)
	Advice    string `json:"advice"`              // Actionable guidance on how to fix
	Value     int64  `json:"value,omitempty"`     // Current value, for threshold violations
	Threshold int64  `json:"threshold,omitempty"` // Threshold that was exceeded
	Pattern   string `json:"pattern,omitempty"`   // Pattern name that matched, for escape violations
	Cached    bool   `json:"cached,omitempty"`    // Whether this violation was served from the cache
}

// Error implements the error interface
func (v *Violation) Error() string {
	if v.Line > 0 {
		return fmt.Sprintf("%s:%d: [%s/%s] %s", v.File, v.Line, v.Check, v.Kind, v.Advice)
	}
	return fmt.Sprintf("%s: [%s/%s] %s", v.File, v.Check, v.Kind, v.Advice)
}

// CheckResult is the outcome of one check across the whole run.
type CheckResult struct {
	Name       string      `json:"name"`
	Passed     bool        `json:"passed"`
	Skipped    bool        `json:"skipped,omitempty"`
	Error      string      `json:"error,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// RunReport aggregates the results of a single engine run.
type RunReport struct {
	Timestamp    string        `json:"timestamp"`
	Passed       bool          `json:"passed"`
	Checks       []CheckResult `json:"checks"`
	FilesScanned int           `json:"files_scanned"`
	Cache        CacheStats    `json:"cache"`
	Duration     time.Duration `json:"duration_ns"`
}

// NewRunReport builds a report from per-check results. Overall pass means
// every non-skipped check passed.
func NewRunReport(checks []CheckResult, filesScanned int, stats CacheStats, duration time.Duration) *RunReport {
	passed := true
	for _, c := range checks {
		if !c.Passed && !c.Skipped {
			passed = false
			break
		}
	}

	return &RunReport{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Passed:       passed,
		Checks:       checks,
		FilesScanned: filesScanned,
		Cache:        stats,
		Duration:     duration,
	}
}

// TotalViolations counts violations across all checks.
func (r *RunReport) TotalViolations() int {
	total := 0
	for _, c := range r.Checks {
		total += len(c.Violations)
	}
	return total
}

// AllViolations returns every violation in the report, sorted by file and line.
func (r *RunReport) AllViolations() []Violation {
	var all []Violation
	for _, c := range r.Checks {
		all = append(all, c.Violations...)
	}
	sortViolations(all)
	return all
}

// IsEmpty returns true if no check reported a violation.
func (r *RunReport) IsEmpty() bool {
	return r.TotalViolations() == 0
}

// String implements the Stringer interface
func (r *RunReport) String() string {
	return r.PrintByFile()
}

// PrintByFile prints the violations grouped by file
func (r *RunReport) PrintByFile() string {
	all := r.AllViolations()
	if len(all) == 0 {
		return "No violations found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d violations grouped by file:\n", len(all))

	fileViolations := make(map[string][]Violation)
	var files []string
	for _, v := range all {
		if _, seen := fileViolations[v.File]; !seen {
			files = append(files, v.File)
		}
		fileViolations[v.File] = append(fileViolations[v.File], v)
	}
	sort.Strings(files)

	for _, file := range files {
		violations := fileViolations[file]
		fmt.Fprintf(&b, "File: %s (%d violations)\n", file, len(violations))
		for _, v := range violations {
			if v.Line > 0 {
				fmt.Fprintf(&b, "  - line %d: [%s] %s\n", v.Line, v.Check, v.Advice)
			} else {
				fmt.Fprintf(&b, "  - [%s] %s\n", v.Check, v.Advice)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// PrintByCheck prints the violations grouped by check
func (r *RunReport) PrintByCheck() string {
	if r.IsEmpty() {
		return "No violations found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d violations grouped by check:\n", r.TotalViolations())

	for _, c := range r.Checks {
		if len(c.Violations) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Check: %s (%d violations)\n", c.Name, len(c.Violations))
		for _, v := range c.Violations {
			if v.Line > 0 {
				fmt.Fprintf(&b, "  - %s:%d: %s\n", v.File, v.Line, v.Advice)
			} else {
				fmt.Fprintf(&b, "  - %s: %s\n", v.File, v.Advice)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// sortViolations orders violations by file path, then line number.
func sortViolations(violations []Violation) {
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
}
