package vigil

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatText outputs human-readable text (default)
	FormatText OutputFormat = "text"
	// FormatJSON outputs machine-readable JSON
	FormatJSON OutputFormat = "json"
)

// Formatter renders a run report for the user.
type Formatter interface {
	Format(report *RunReport) ([]byte, error)
	ContentType() string
}

// NewFormatter creates a formatter for the requested output format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Pretty: true}, nil
	case FormatText:
		return &TextFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// JSONFormatter outputs the report in JSON format
type JSONFormatter struct {
	Pretty bool
}

func (f *JSONFormatter) Format(report *RunReport) ([]byte, error) {
	if f.Pretty {
		return json.MarshalIndent(report, "", "  ")
	}
	return json.Marshal(report)
}

func (f *JSONFormatter) ContentType() string {
	return "application/json"
}

// TextFormatter outputs a human-readable summary
type TextFormatter struct {
	// NoColor disables ANSI colors regardless of terminal detection.
	NoColor bool
}

func (f *TextFormatter) Format(report *RunReport) ([]byte, error) {
	var b strings.Builder

	passColor := color.New(color.FgGreen, color.Bold)
	failColor := color.New(color.FgRed, color.Bold)
	skipColor := color.New(color.FgYellow)
	dimColor := color.New(color.FgHiBlack)
	if f.NoColor {
		passColor.DisableColor()
		failColor.DisableColor()
		skipColor.DisableColor()
		dimColor.DisableColor()
	}

	for _, c := range report.Checks {
		switch {
		case c.Skipped:
			fmt.Fprintf(&b, "%s %s: %s\n", skipColor.Sprint("–"), c.Name, c.Error)
		case c.Passed:
			fmt.Fprintf(&b, "%s %s\n", passColor.Sprint("✓"), c.Name)
		default:
			fmt.Fprintf(&b, "%s %s (%d violations)\n", failColor.Sprint("✗"), c.Name, len(c.Violations))
			for _, v := range c.Violations {
				if v.Line > 0 {
					fmt.Fprintf(&b, "    %s:%d: %s\n", v.File, v.Line, v.Advice)
				} else {
					fmt.Fprintf(&b, "    %s: %s\n", v.File, v.Advice)
				}
			}
		}
	}

	b.WriteString("\n")
	status := passColor.Sprint("passed")
	if !report.Passed {
		status = failColor.Sprint("failed")
	}
	fmt.Fprintf(&b, "%s: %d files, %d violations in %s\n",
		status, report.FilesScanned, report.TotalViolations(), report.Duration.Round(0))
	fmt.Fprintf(&b, "%s\n", dimColor.Sprintf("cache: %d hits, %d misses, %d entries",
		report.Cache.Hits, report.Cache.Misses, report.Cache.Entries))

	return []byte(b.String()), nil
}

func (f *TextFormatter) ContentType() string {
	return "text/plain"
}
