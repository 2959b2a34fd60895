package vigil

import (
	"log/slog"

	"github.com/spf13/afero"
)

// CheckContext carries the run-wide state every check may consult.
type CheckContext struct {
	Root   string
	Cfg    Config
	Logger *slog.Logger
	Fs     afero.Fs
}

// Check is a single quality check. Implementations must be safe for
// concurrent use: the engine invokes the same Check value from many
// workers at once, each with a different file.
//
// A check must be a pure function of (file content, configuration).
// Anything else it depends on is invisible to the cache key and would
// make cached results stale without detection.
type Check interface {
	// Name is the unique identifier for this check (e.g. "cloc", "escapes").
	Name() string

	// Description is a human-readable summary for help output.
	Description() string

	// Run inspects a single file and returns its violations. Returning an
	// error marks the check as failed for this run; it never aborts the
	// run or affects other checks. Checks that do not apply to a path
	// return (nil, nil).
	Run(path string, content []byte, ctx *CheckContext) ([]Violation, error)
}

// EnabledChecks builds the list of checks active under the given config.
// The engine iterates this list per file; the order here is the canonical
// report order.
func EnabledChecks(cfg Config) []Check {
	var checks []Check

	if cfg.Checks.Cloc.Enabled {
		checks = append(checks, &ClocCheck{})
	}
	if cfg.Checks.Escapes.Enabled {
		checks = append(checks, &EscapesCheck{})
	}
	if cfg.Checks.License.Enabled {
		checks = append(checks, &LicenseCheck{})
	}
	if cfg.Checks.Build.Enabled {
		checks = append(checks, &BuildCheck{})
	}

	return checks
}
