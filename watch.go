package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// WatchMode re-runs the engine whenever files change. Because the engine
// keeps its warm in-memory cache between runs, each re-run only pays for
// the files that actually changed.
type WatchMode struct {
	engine *Engine
	logger *slog.Logger
	fs     afero.Fs
	format Formatter

	watcher      *fsnotify.Watcher
	debounceTime time.Duration

	// Debouncing state
	mu            sync.Mutex
	pending       bool
	debounceTimer *time.Timer
	rerun         chan struct{}
}

// WatchConfig holds configuration for watch mode
type WatchConfig struct {
	Engine       *Engine
	Logger       *slog.Logger
	FS           afero.Fs
	Formatter    Formatter
	DebounceTime time.Duration
}

// NewWatchMode creates a new WatchMode instance
func NewWatchMode(cfg WatchConfig) (*WatchMode, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.DebounceTime == 0 {
		cfg.DebounceTime = 100 * time.Millisecond
	}
	if cfg.Formatter == nil {
		cfg.Formatter = &TextFormatter{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &WatchMode{
		engine:       cfg.Engine,
		logger:       cfg.Logger,
		fs:           cfg.FS,
		format:       cfg.Formatter,
		watcher:      watcher,
		debounceTime: cfg.DebounceTime,
		rerun:        make(chan struct{}, 1),
	}, nil
}

// Start runs an initial analysis, then blocks re-running on file changes
// until the context is cancelled.
func (w *WatchMode) Start(ctx context.Context, root string) error {
	w.logger.Info("Starting watch mode", "path", root)

	if err := w.runOnce(ctx, root); err != nil {
		return fmt.Errorf("initial analysis failed: %w", err)
	}

	if err := w.addDirsToWatcher(root); err != nil {
		return fmt.Errorf("failed to add files to watcher: %w", err)
	}

	fmt.Println(color.New(color.FgGreen, color.Bold).Sprintf("Watching %s for changes...", root))
	fmt.Println(color.New(color.FgHiBlack).Sprint("Press Ctrl+C to stop"))

	return w.processEvents(ctx, root)
}

// Stop gracefully stops the watcher
func (w *WatchMode) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// runOnce executes a full engine run and prints the formatted report.
func (w *WatchMode) runOnce(ctx context.Context, root string) error {
	report, err := w.engine.Run(ctx, root)
	if err != nil {
		return err
	}

	out, err := w.format.Format(report)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	fmt.Println()
	return nil
}

// addDirsToWatcher watches directories, not individual files, so new files
// are picked up too.
func (w *WatchMode) addDirsToWatcher(root string) error {
	return afero.Walk(w.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.logger.Warn("Error walking path", "path", path, "error", err)
			return nil // Continue walking
		}

		if !info.IsDir() {
			return nil
		}

		name := info.Name()
		if path != root && (skipDirectories[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// processEvents handles file system events with debouncing
func (w *WatchMode) processEvents(ctx context.Context, root string) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping watch mode")
			return nil

		case <-w.rerun:
			w.printTimestamp()
			fmt.Println(color.New(color.FgMagenta).Sprint("Change detected, re-analyzing..."))
			if err := w.runOnce(ctx, root); err != nil {
				w.logger.Error("Analysis failed", "error", err)
			}

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Watcher error", "error", err)
		}
	}
}

// handleEvent schedules a debounced re-run for relevant events.
func (w *WatchMode) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") && base != "." {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTime, func() {
		w.mu.Lock()
		fire := w.pending
		w.pending = false
		w.mu.Unlock()

		if fire {
			select {
			case w.rerun <- struct{}{}:
			default:
			}
		}
	})
}

// printTimestamp prints the current timestamp
func (w *WatchMode) printTimestamp() {
	timestamp := time.Now().Format("15:04:05")
	fmt.Printf("[%s] ", color.New(color.FgHiBlack).Sprint(timestamp))
}
