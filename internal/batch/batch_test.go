package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/optimizer"
)

const formPage = `<!DOCTYPE html>
<html><head>
<script src="https://www.google.com/recaptcha/api.js"></script>
</head><body>
<form class="metform-form-content"><div class="g-recaptcha" data-sitekey="k"></div></form>
</body></html>`

const plainPage = `<!DOCTYPE html>
<html><head>
<script src="https://www.google.com/recaptcha/api.js"></script>
</head><body><p>About us</p></body></html>`

func newOptimizer(t *testing.T) *optimizer.Optimizer {
	t.Helper()
	gate, err := eligibility.NewGate(eligibility.DefaultConfig())
	require.NoError(t, err)
	opt, err := optimizer.New(gate, injector.DefaultOptions())
	require.NoError(t, err)
	return opt
}

func writeSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"index.html":          plainPage,
		"contact/index.html":  formPage,
		"about.html":          plainPage,
		"assets/app.js":       "console.log('hi')",
		"vendor/widget.html":  formPage,
		"legacy/contact.htm":  formPage,
		"contact/thanks.html": plainPage,
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func read(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

func TestRun(t *testing.T) {
	root := writeSite(t)
	r, err := New(newOptimizer(t), Config{Root: root, Exclude: []string{"vendor/**"}}, nil)
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	files := map[string]FileResult{}
	for _, f := range report.Files {
		files[f.File] = f
	}
	require.Len(t, files, 5)
	assert.NotContains(t, files, "vendor/widget.html")
	assert.NotContains(t, files, "assets/app.js")

	assert.Equal(t, eligibility.ReasonFrontPage, files["index.html"].Reason)
	assert.Equal(t, "/contact/", files["contact/index.html"].Page)
	assert.Equal(t, monitoring.OutcomeRewritten, files["contact/index.html"].Outcome)
	assert.Equal(t, monitoring.OutcomeRewritten, files["legacy/contact.htm"].Outcome)
	assert.Equal(t, monitoring.OutcomeIneligible, files["about.html"].Outcome)
	assert.Equal(t, 3, report.Rewritten)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Failed)

	assert.Contains(t, read(t, root, "contact/index.html"), injector.ScriptID)
	assert.Contains(t, read(t, root, "index.html"), `data-recaptcha-defer="true"`)
	assert.Equal(t, plainPage, read(t, root, "about.html"))
	assert.Equal(t, formPage, read(t, root, "vendor/widget.html"))

	info, err := os.Stat(filepath.Join(root, "contact", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	// A second run finds the loader already present
	again, err := r.Run(context.Background())
	require.NoError(t, err)
	for _, f := range again.Files {
		if f.File == "contact/index.html" {
			assert.Zero(t, f.Marked)
			assert.False(t, f.Injected)
		}
	}
}

func TestRunDryRun(t *testing.T) {
	root := writeSite(t)
	r, err := New(newOptimizer(t), Config{Root: root, DryRun: true}, nil)
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 4, report.Rewritten)
	assert.Equal(t, formPage, read(t, root, "contact/index.html"))
	assert.Equal(t, plainPage, read(t, root, "index.html"))
}

func TestRunInclude(t *testing.T) {
	root := writeSite(t)
	r, err := New(newOptimizer(t), Config{Root: root, Include: []string{"contact/**"}, DryRun: true}, nil)
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 2)
	assert.Equal(t, "contact/index.html", report.Files[0].File)
	assert.Equal(t, "contact/thanks.html", report.Files[1].File)
}

func TestRunCanceled(t *testing.T) {
	r, err := New(newOptimizer(t), Config{Root: writeSite(t)}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	opt := newOptimizer(t)
	root := t.TempDir()
	file := filepath.Join(root, "page.html")
	require.NoError(t, os.WriteFile(file, []byte(plainPage), 0o644))

	tests := []struct {
		name string
		opt  *optimizer.Optimizer
		cfg  Config
	}{
		{"missing optimizer", nil, Config{Root: root}},
		{"missing root", opt, Config{}},
		{"root is a file", opt, Config{Root: file}},
		{"nonexistent root", opt, Config{Root: filepath.Join(root, "nope")}},
		{"bad include", opt, Config{Root: root, Include: []string{"[html"}}},
		{"bad exclude", opt, Config{Root: root, Exclude: []string{"{a,b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt, tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestPagePath(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"index.html", "/"},
		{"index.htm", "/"},
		{"contact/index.html", "/contact/"},
		{"blog/2024/post/index.html", "/blog/2024/post/"},
		{"about.html", "/about.html"},
		{"legacy/contact.htm", "/legacy/contact.htm"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, PagePath(tt.file))
		})
	}
}
