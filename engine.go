package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Engine runs the configured checks across a discovered file set using a
// worker pool, consulting the cache before invoking checks and populating
// it after. The cache is a side channel, not a gate: every cache failure
// degrades to recomputation, never to a failed run.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	fs     afero.Fs
	checks []Check

	cache   *FileCache
	noCache bool

	workerCount int
	bufferSize  int
}

// fileResult carries one file's resolved violations back to the collector.
type fileResult struct {
	path       string
	violations []Violation
	// failures maps check name to error message for checks that errored
	// or panicked on this file.
	failures map[string]string
}

// EngineOption is a functional option for Engine
type EngineOption func(*Engine) error

// WithWorkerCount sets the number of worker goroutines
func WithWorkerCount(count int) EngineOption {
	return func(e *Engine) error {
		if count < 1 {
			return fmt.Errorf("worker count must be at least 1, got %d", count)
		}
		e.workerCount = count
		return nil
	}
}

// WithoutCache disables cache lookup and persistence for this engine.
// Any existing on-disk snapshot is left untouched.
func WithoutCache() EngineOption {
	return func(e *Engine) error {
		e.noCache = true
		return nil
	}
}

// WithCache injects a pre-built cache store. Used by tests and by callers
// that manage snapshot loading themselves.
func WithCache(cache *FileCache) EngineOption {
	return func(e *Engine) error {
		e.cache = cache
		return nil
	}
}

// NewEngine creates an execution engine for the given configuration.
func NewEngine(cfg Config, logger *slog.Logger, fs afero.Fs, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		logger:      ensureLogger(logger),
		fs:          fs,
		checks:      EnabledChecks(cfg),
		workerCount: runtime.NumCPU(),
		bufferSize:  100,
	}
	if cfg.Jobs > 0 {
		e.workerCount = cfg.Jobs
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// ensureLogger creates a default logger if none is provided
func ensureLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return logger
}

// Run discovers files under root, executes all enabled checks with cache
// support, persists the cache, and returns the aggregated report.
func (e *Engine) Run(ctx context.Context, root string) (*RunReport, error) {
	start := time.Now()

	files, err := DiscoverFiles(e.fs, root, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}

	e.ensureCache(root)

	results, err := e.processFilesConcurrently(ctx, root, files)
	if err != nil {
		return nil, err
	}

	e.persistCache(root)

	checks := e.buildCheckResults(results)
	stats := CacheStats{}
	if e.cache != nil {
		stats = e.cache.Stats()
	}

	report := NewRunReport(checks, len(files), stats, time.Since(start))
	e.logger.Debug("Run complete",
		"files", len(files),
		"violations", report.TotalViolations(),
		"cache_hits", stats.Hits,
		"cache_misses", stats.Misses)

	return report, nil
}

// ensureCache loads the persisted snapshot on the first run. Every load
// failure - missing file, corruption, version or config mismatch - falls
// back to an empty store; a cold cache is always a safe start.
func (e *Engine) ensureCache(root string) {
	if e.noCache || e.cache != nil {
		return
	}

	configHash := e.cfg.Hash()
	cachePath := JoinPaths(root, e.cfg.CacheFile)

	cache, err := LoadFileCache(e.fs, cachePath, configHash)
	if err != nil {
		e.logger.Debug("Cache not loaded, starting fresh", "path", cachePath, "error", err)
		cache = NewFileCache(configHash)
	} else {
		e.logger.Debug("Cache loaded", "path", cachePath, "entries", cache.Len())
	}
	e.cache = cache
}

// persistCache writes the snapshot back to disk. Failure is logged and
// otherwise ignored: the next run simply starts cold.
func (e *Engine) persistCache(root string) {
	if e.noCache || e.cache == nil {
		return
	}

	cachePath := JoinPaths(root, e.cfg.CacheFile)
	if err := e.cache.Save(e.fs, cachePath); err != nil {
		e.logger.Warn("Failed to persist cache", "path", cachePath, "error", err)
	}
}

// processFilesConcurrently processes files using a worker pool
func (e *Engine) processFilesConcurrently(ctx context.Context, root string, files []WalkedFile) ([]fileResult, error) {
	jobs := make(chan WalkedFile, e.bufferSize)
	results := make(chan fileResult, e.bufferSize)

	checkCtx := &CheckContext{
		Root:   root,
		Cfg:    e.cfg,
		Logger: e.logger,
		Fs:     e.fs,
	}

	var wg sync.WaitGroup
	for i := 0; i < e.workerCount; i++ {
		wg.Add(1)
		go e.worker(ctx, &wg, root, checkCtx, jobs, results)
	}

	var collected []fileResult
	collectorDone := make(chan struct{})
	go func() {
		for result := range results {
			collected = append(collected, result)
		}
		close(collectorDone)
	}()

	go func() {
		defer close(jobs)
		for _, file := range files {
			select {
			case <-ctx.Done():
				return
			case jobs <- file:
			}
		}
	}()

	wg.Wait()
	close(results)
	<-collectorDone

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return collected, nil
}

// worker processes jobs from the job channel
func (e *Engine) worker(ctx context.Context, wg *sync.WaitGroup, root string, checkCtx *CheckContext, jobs <-chan WalkedFile, results chan<- fileResult) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results <- e.processFile(root, checkCtx, job)
	}
}

// processFile resolves one file's violations: from the cache when its key
// still matches, otherwise by running every enabled check against the live
// content and inserting the complete result set. Recomputation is
// idempotent, so two workers racing on the same path is a wasted read, not
// a correctness hazard.
func (e *Engine) processFile(root string, checkCtx *CheckContext, file WalkedFile) fileResult {
	key := file.CacheKey()

	if e.cache != nil {
		if cached, ok := e.cache.Lookup(file.Path, key); ok {
			violations := make([]Violation, 0, len(cached))
			for _, cv := range cached {
				violations = append(violations, cv.ToViolation(file.Path))
			}
			return fileResult{path: file.Path, violations: violations}
		}
	}

	content, err := afero.ReadFile(e.fs, JoinPaths(root, file.Path))
	if err != nil {
		// The file vanished or became unreadable since discovery. Skip it
		// without caching anything; next run re-evaluates from scratch.
		e.logger.Warn("Failed to read file, skipping", "path", file.Path, "error", err)
		return fileResult{path: file.Path}
	}

	result := fileResult{path: file.Path}
	var complete []CachedViolation
	allSucceeded := true

	for _, chk := range e.checks {
		violations, err := runCheckSafe(chk, file.Path, content, checkCtx)
		if err != nil {
			e.logger.Error("Check failed for file",
				"check", chk.Name(), "path", file.Path, "error", err.Error())
			if result.failures == nil {
				result.failures = make(map[string]string)
			}
			result.failures[chk.Name()] = err.Error()
			allSucceeded = false
			continue
		}
		result.violations = append(result.violations, violations...)
		for _, v := range violations {
			complete = append(complete, cachedFromViolation(v))
		}
	}

	// Only a complete result may be cached: if any check failed, caching
	// the partial set would silently drop that check's findings on the
	// next warm run.
	if e.cache != nil && allSucceeded {
		e.cache.Insert(file.Path, key, complete)
	}

	return result
}

// runCheckSafe isolates a single check invocation: a panic inside a check
// is converted into an error for that check alone.
func runCheckSafe(chk Check, path string, content []byte, ctx *CheckContext) (violations []Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			violations = nil
			err = fmt.Errorf("internal error: check %s panicked: %v", chk.Name(), r)
		}
	}()
	return chk.Run(path, content, ctx)
}

// buildCheckResults groups per-file outcomes into one result per enabled
// check, in canonical check order.
func (e *Engine) buildCheckResults(results []fileResult) []CheckResult {
	violationsByCheck := make(map[string][]Violation)
	failuresByCheck := make(map[string]string)

	for _, r := range results {
		for _, v := range r.violations {
			violationsByCheck[v.Check] = append(violationsByCheck[v.Check], v)
		}
		for check, msg := range r.failures {
			if _, exists := failuresByCheck[check]; !exists {
				failuresByCheck[check] = fmt.Sprintf("%s: %s", r.path, msg)
			}
		}
	}

	checkResults := make([]CheckResult, 0, len(e.checks))
	for _, chk := range e.checks {
		name := chk.Name()
		violations := violationsByCheck[name]
		sortViolations(violations)

		errMsg := failuresByCheck[name]
		checkResults = append(checkResults, CheckResult{
			Name:       name,
			Passed:     len(violations) == 0 && errMsg == "",
			Skipped:    errMsg != "",
			Error:      errMsg,
			Violations: violations,
		})
	}

	return checkResults
}
