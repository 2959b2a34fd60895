package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/gophersatwork/vigil"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	path       string
	verbose    bool
	noCache    bool
	jsonOutput bool
	watch      bool
	jobs       int
)

// ErrViolations signals a completed run that found violations.
var ErrViolations = errors.New("violations found")

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is vigil.yml)")
	rootCmd.PersistentFlags().StringVar(&path, "path", ".", "path to check")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "disable the check result cache for this run")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&watch, "watch", false, "watch for changes and re-run checks")
	rootCmd.PersistentFlags().IntVar(&jobs, "jobs", 0, "number of parallel workers (0 = number of CPUs)")

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "An incremental code-quality linter",
	Long: `Vigil walks a source tree, runs a set of quality checks (size limits,
escape-hatch detection, license and module hygiene), and reports violations.
Results are cached per file so repeated runs on an unchanged tree complete
in near-zero time.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelWarn
		if verbose {
			logLevel = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))

		fs := afero.NewOsFs()

		cfg, err := vigil.LoadConfig(fs, path, cfgFile)
		if err != nil {
			logger.Error("Failed to load configuration", "error", err)
			return err
		}
		if jobs > 0 {
			cfg.Jobs = jobs
		}

		var opts []vigil.EngineOption
		if noCache {
			opts = append(opts, vigil.WithoutCache())
		}

		engine, err := vigil.NewEngine(cfg, logger, fs, opts...)
		if err != nil {
			logger.Error("Failed to initialize the engine", "error", err)
			return err
		}

		format := vigil.FormatText
		if jsonOutput {
			format = vigil.FormatJSON
		}
		formatter, err := vigil.NewFormatter(format)
		if err != nil {
			return err
		}

		if watch {
			wm, err := vigil.NewWatchMode(vigil.WatchConfig{
				Engine:    engine,
				Logger:    logger,
				FS:        fs,
				Formatter: formatter,
			})
			if err != nil {
				return err
			}
			defer wm.Stop()
			return wm.Start(cmd.Context(), path)
		}

		report, err := engine.Run(cmd.Context(), path)
		if err != nil {
			if info, found := vigil.GetErrorInfo(err); found {
				logger.Error("Run failed", "error", err, "error_type", info.Type, "file", info.File)
			} else {
				logger.Error("Run failed", "error", err)
			}
			return err
		}

		out, err := formatter.Format(report)
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		if !report.Passed {
			return ErrViolations
		}
		return nil
	},
}
