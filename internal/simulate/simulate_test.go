package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/recaptcha-defer/internal/engine"
	"github.com/GriffinCanCode/recaptcha-defer/internal/sandbox"
)

const (
	widgetURL = "https://www.google.com/recaptcha/api.js?render=explicit"
	chunkURL  = "https://www.gstatic.com/recaptcha/releases/abc/recaptcha__en.js"
)

const page = `<html><head><script src="/js/app.js"></script></head><body>
<form class="metform-form-content">
<script data-recaptcha-defer="true" data-recaptcha-src="` + widgetURL + `"></script>
</form>
</body></html>`

var modes = []Mode{ModeEngine, ModeLoader}

func mustTimeline(t *testing.T, s string) []Step {
	t.Helper()
	steps, err := ParseTimeline(s)
	require.NoError(t, err)
	return steps
}

func TestRunTimeout(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Run(context.Background(), page, Options{Mode: mode, Eligible: true, Widget: true})
			require.NoError(t, err)

			assert.True(t, res.Activated)
			assert.Equal(t, engine.TriggerTimeout, res.Trigger)
			assert.Equal(t, engine.DefaultTimeout, res.ActivatedAt)
			assert.Equal(t, 1, res.Loaded)
			assert.True(t, res.WidgetReady)
			assert.Equal(t, []string{"/js/app.js", widgetURL}, res.Executed)
		})
	}
}

func TestRunFirstInteractionWins(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Run(context.Background(), page, Options{
				Mode:     mode,
				Eligible: true,
				Timeline: mustTimeline(t, "click@200ms,scroll@210ms,keydown@4s"),
			})
			require.NoError(t, err)

			assert.Equal(t, "click", res.Trigger)
			assert.Equal(t, 200*time.Millisecond, res.ActivatedAt)
			assert.Equal(t, 1, res.Loaded)
			assert.Equal(t, []string{"/js/app.js", widgetURL}, res.Executed)
			assert.False(t, res.WidgetReady)
		})
	}
}

func TestRunInterceptsInsertedScripts(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Run(context.Background(), page, Options{
				Mode:     mode,
				Eligible: true,
				Timeline: mustTimeline(t, "insert="+chunkURL+"@100ms,touchstart@300ms"),
			})
			require.NoError(t, err)

			assert.Equal(t, "touchstart", res.Trigger)
			assert.ElementsMatch(t, []string{"/js/app.js", widgetURL, chunkURL}, res.Executed)

			for _, entry := range res.Log {
				if entry.Kind == EntryExecute && entry.Detail == chunkURL {
					assert.Equal(t, 300*time.Millisecond, entry.At)
				}
			}
		})
	}
}

func TestRunLoaderBlocksWidgetInsertedByHeadScript(t *testing.T) {
	const headInsert = `<html><head>
<script>
	var s = document.createElement('script');
	s.src = 'https://www.google.com/recaptcha/api.js';
	document.head.appendChild(s);
</script>
<script src="/js/app.js"></script>
</head><body><form class="metform-form-content"></form></body></html>`

	res, err := Run(context.Background(), headInsert, Options{
		Mode:     ModeLoader,
		Eligible: true,
		Timeline: mustTimeline(t, "click@300ms"),
	})
	require.NoError(t, err)

	assert.Equal(t, "click", res.Trigger)
	assert.Equal(t, 300*time.Millisecond, res.ActivatedAt)
	assert.Equal(t, []string{"inline", "/js/app.js", "https://www.google.com/recaptcha/api.js"}, res.Executed)
	assert.Contains(t, res.Log, Entry{At: 300 * time.Millisecond, Kind: EntryExecute, Detail: "https://www.google.com/recaptcha/api.js"})
	assert.Contains(t, res.HTML, `id="recaptcha-defer-loader"`)
}

func TestRunLoaderWithoutInteractionKeepsHeadInsertBlocked(t *testing.T) {
	const headInsert = `<html><head>
<script>
	var s = document.createElement('script');
	s.src = 'https://www.google.com/recaptcha/api.js';
	document.head.appendChild(s);
</script>
</head><body></body></html>`

	res, err := Run(context.Background(), headInsert, Options{
		Mode:     ModeLoader,
		Eligible: true,
		Until:    time.Second,
	})
	require.NoError(t, err)

	assert.False(t, res.Activated)
	assert.Equal(t, []string{"inline"}, res.Executed)
	assert.Contains(t, res.HTML, `type="javascript/blocked"`)
	assert.Contains(t, res.HTML, `data-recaptcha-defer="true"`)
}

func TestRunUnrelatedInsertExecutes(t *testing.T) {
	res, err := Run(context.Background(), page, Options{
		Eligible: true,
		Timeline: mustTimeline(t, "insert=https://cdn.example/analytics.js@100ms"),
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(res.Log), 2)
	assert.Contains(t, res.Log, Entry{At: 100 * time.Millisecond, Kind: EntryExecute, Detail: "https://cdn.example/analytics.js"})
}

func TestRunIneligible(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Run(context.Background(), page, Options{
				Mode:     mode,
				Timeline: mustTimeline(t, "click@200ms"),
			})
			require.NoError(t, err)

			assert.False(t, res.Activated)
			assert.Zero(t, res.Loaded)
			assert.Nil(t, res.Report)
			assert.Equal(t, []string{"/js/app.js"}, res.Executed)
		})
	}
}

func TestRunEngineReport(t *testing.T) {
	res, err := Run(context.Background(), page, Options{
		Mode:     ModeEngine,
		Eligible: true,
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Report)
	assert.Equal(t, engine.StateActivated, res.Report.State)
	assert.Equal(t, 1, res.Report.Materialized)
	assert.Equal(t, 2*time.Second, res.ActivatedAt)
}

func TestRunLoaderWithPool(t *testing.T) {
	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 1)
	require.NoError(t, err)
	defer pool.Close()

	for i := 0; i < 2; i++ {
		res, err := Run(context.Background(), page, Options{
			Mode:     ModeLoader,
			Eligible: true,
			Timeline: mustTimeline(t, "mousemove@1s"),
			Pool:     pool,
		})
		require.NoError(t, err)
		assert.Equal(t, "mousemove", res.Trigger)
		assert.Equal(t, time.Second, res.ActivatedAt)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, page, Options{Eligible: true, Timeline: mustTimeline(t, "click@1s")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRealtime(t *testing.T) {
	res, err := Run(context.Background(), page, Options{
		Mode:     ModeEngine,
		Realtime: true,
		Eligible: true,
		Timeout:  time.Second,
		Until:    300 * time.Millisecond,
		Timeline: mustTimeline(t, "click@20ms,scroll@40ms"),
	})
	require.NoError(t, err)

	assert.True(t, res.Activated)
	assert.Equal(t, "click", res.Trigger)
	assert.GreaterOrEqual(t, res.ActivatedAt, 20*time.Millisecond)
	assert.Less(t, res.ActivatedAt, time.Second)
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, []string{"/js/app.js", widgetURL}, res.Executed)
	require.NotNil(t, res.Report)
	assert.Equal(t, engine.StateActivated, res.Report.State)
}

func TestRunRealtimeTimeout(t *testing.T) {
	res, err := Run(context.Background(), page, Options{
		Realtime: true,
		Eligible: true,
		Timeout:  30 * time.Millisecond,
		Until:    200 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, engine.TriggerTimeout, res.Trigger)
	assert.GreaterOrEqual(t, res.ActivatedAt, 30*time.Millisecond)
	assert.Equal(t, 1, res.Loaded)
}

func TestRunRealtimeRequiresEngineMode(t *testing.T) {
	_, err := Run(context.Background(), page, Options{Mode: ModeLoader, Realtime: true, Eligible: true})
	assert.Error(t, err)
}

func TestParseTimeline(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Step
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{
			name:  "sorted by offset",
			input: "scroll@210ms, click@200ms",
			want: []Step{
				{At: 200 * time.Millisecond, Event: "click"},
				{At: 210 * time.Millisecond, Event: "scroll"},
			},
		},
		{
			name:  "same offset keeps order",
			input: "keydown@1s,click@1s",
			want: []Step{
				{At: time.Second, Event: "keydown"},
				{At: time.Second, Event: "click"},
			},
		},
		{
			name:  "insert with url",
			input: "insert=https://www.gstatic.com/a.js?x=1@50ms",
			want:  []Step{{At: 50 * time.Millisecond, Event: StepInsert, Src: "https://www.gstatic.com/a.js?x=1"}},
		},
		{name: "missing offset", input: "click", wantErr: true},
		{name: "bad duration", input: "click@soon", wantErr: true},
		{name: "negative", input: "click@-1s", wantErr: true},
		{name: "insert without source", input: "insert@1s", wantErr: true},
		{name: "argument on event", input: "click=x@1s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeline(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeEngine, mode)

	mode, err = ParseMode("loader")
	require.NoError(t, err)
	assert.Equal(t, ModeLoader, mode)

	_, err = ParseMode("browser")
	assert.Error(t, err)
}
