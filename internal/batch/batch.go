// Package batch rewrites a static export of a site in place, applying the
// same optimizer the proxy runs on live pages.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/optimizer"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/id"
)

// DefaultInclude selects the pages of a typical export
var DefaultInclude = []string{"**/*.html", "**/*.htm"}

// Config configures a rewrite run
type Config struct {
	Root string
	// Include and Exclude are doublestar patterns relative to Root, using
	// forward slashes
	Include []string
	Exclude []string
	DryRun  bool
	Workers int
}

// FileResult is the outcome for one file
type FileResult struct {
	File     string `json:"file"`
	Page     string `json:"page"`
	Reason   string `json:"reason,omitempty"`
	Outcome  string `json:"outcome"`
	Marked   int    `json:"marked"`
	Injected bool   `json:"injected"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a run
type Report struct {
	RunID     string        `json:"run_id"`
	Root      string        `json:"root"`
	DryRun    bool          `json:"dry_run"`
	Files     []FileResult  `json:"files"`
	Rewritten int           `json:"rewritten"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Rewriter runs the optimizer over a directory tree
type Rewriter struct {
	opt    *optimizer.Optimizer
	cfg    Config
	logger *zap.Logger
}

// New creates a rewriter. Patterns are validated up front.
func New(opt *optimizer.Optimizer, cfg Config, logger *zap.Logger) (*Rewriter, error) {
	if opt == nil {
		return nil, fmt.Errorf("batch rewriter requires an optimizer")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("invalid root: %s is not a directory", cfg.Root)
	}
	if len(cfg.Include) == 0 {
		cfg.Include = DefaultInclude
	}
	for _, pattern := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{opt: opt, cfg: cfg, logger: logger}, nil
}

// Run walks the root and processes every selected file. Per-file failures are
// reported in the result; the returned error is for the walk itself.
func (r *Rewriter) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:  id.NewRunID().String(),
		Root:   r.cfg.Root,
		DryRun: r.cfg.DryRun,
		Files:  []FileResult{},
	}

	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false, NumWorkers: r.cfg.Workers}

	err := fastwalk.Walk(&conf, r.cfg.Root, func(p string, d fs.DirEntry, err error) error {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			r.logger.Warn("Skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}
		rel, err := filepath.Rel(r.cfg.Root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && r.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !r.selected(rel) {
			return nil
		}

		res := r.processFile(ctx, p, rel)

		mu.Lock()
		report.Files = append(report.Files, res)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", r.cfg.Root, err)
	}

	sort.Slice(report.Files, func(i, j int) bool {
		return report.Files[i].File < report.Files[j].File
	})
	for _, f := range report.Files {
		switch f.Outcome {
		case monitoring.OutcomeRewritten:
			report.Rewritten++
		case monitoring.OutcomeError:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	report.Duration = time.Since(start)

	r.logger.Info("Batch rewrite finished",
		zap.String("run_id", report.RunID),
		zap.Int("rewritten", report.Rewritten),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", report.DryRun),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (r *Rewriter) processFile(ctx context.Context, path, rel string) FileResult {
	res := FileResult{File: rel, Page: PagePath(rel)}
	fail := func(err error) FileResult {
		res.Outcome = monitoring.OutcomeError
		res.Error = err.Error()
		r.logger.Warn("Failed to rewrite file", zap.String("file", rel), zap.Error(err))
		return res
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}

	page := eligibility.Page{Path: res.Page, IsFrontPage: res.Page == "/"}
	out, err := r.opt.Process(ctx, page, body)
	if err != nil {
		return fail(err)
	}
	res.Reason = out.Decision.Reason
	res.Outcome = out.Outcome
	res.Marked = out.Marked
	res.Injected = out.Injected

	if !out.Changed() || r.cfg.DryRun {
		return res
	}
	if err := writeFile(path, out.HTML, info.Mode().Perm()); err != nil {
		return fail(err)
	}
	r.logger.Debug("Rewrote file",
		zap.String("file", rel),
		zap.Int("marked", out.Marked),
		zap.Bool("injected", out.Injected),
	)
	return res
}

func (r *Rewriter) selected(rel string) bool {
	return matchAny(r.cfg.Include, rel) && !r.excluded(rel)
}

func (r *Rewriter) excluded(rel string) bool {
	return matchAny(r.cfg.Exclude, rel) || matchAny(r.cfg.Exclude, strings.TrimSuffix(rel, "/"))
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if doublestar.MatchUnvalidated(pattern, rel) {
			return true
		}
	}
	return false
}

// PagePath maps an exported file to the URL path it is served at:
// index.html files stand for their directory
func PagePath(rel string) string {
	rel = filepath.ToSlash(rel)
	if rel == "index.html" || rel == "index.htm" {
		return "/"
	}
	for _, index := range []string{"/index.html", "/index.htm"} {
		if strings.HasSuffix(rel, index) {
			return "/" + strings.TrimSuffix(rel, index) + "/"
		}
	}
	return "/" + rel
}

// writeFile replaces path through a temporary file in the same directory so
// readers never see a partial page
func writeFile(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".recaptcha-defer-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
