package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/optimizer"
	"github.com/GriffinCanCode/recaptcha-defer/internal/upstream"
)

const formPage = `<!DOCTYPE html>
<html><head>
<script src="https://www.google.com/recaptcha/api.js?render=explicit" async defer></script>
</head><body>
<form class="metform-form-content"><div class="g-recaptcha" data-sitekey="k"></div></form>
</body></html>`

const plainPage = `<!DOCTYPE html>
<html><head>
<script src="https://www.google.com/recaptcha/api.js"></script>
</head><body><p>About us</p></body></html>`

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router  *gin.Engine
	metrics *monitoring.Metrics
}

func newFixture(t *testing.T, origin http.HandlerFunc, mutate ...func(*upstream.Config)) *fixture {
	t.Helper()

	gate, err := eligibility.NewGate(eligibility.DefaultConfig())
	require.NoError(t, err)
	opt, err := optimizer.New(gate, injector.DefaultOptions())
	require.NoError(t, err)

	metrics := monitoring.NewMetrics()
	deps := Deps{Optimizer: opt.WithMetrics(metrics), Metrics: metrics}

	if origin != nil {
		srv := httptest.NewServer(origin)
		t.Cleanup(srv.Close)

		cfg := upstream.DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.Retries = 0
		for _, m := range mutate {
			m(&cfg)
		}
		client, err := upstream.New(cfg, upstream.WithMetrics(metrics))
		require.NoError(t, err)
		deps.Origin = client
	}

	h, err := NewHandlers(deps)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/loader.js", h.Loader)
	router.GET("/metrics/json", h.MetricsJSON)
	router.POST("/api/mark", h.Mark)
	router.POST("/api/eligibility", h.Eligibility)
	router.POST("/api/optimize", h.Optimize)
	router.POST("/api/simulate", h.Simulate)
	router.NoRoute(h.Proxy)

	return &fixture{router: router, metrics: metrics}
}

func (f *fixture) do(method, target string, body interface{}, header ...string) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		payload, _ = sonic.Marshal(b)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	w := f.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recaptcha-defer"`)

	w = f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status   string `json:"status"`
		Upstream struct {
			URL string `json:"url"`
		} `json:"upstream"`
	}
	decode(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, strings.HasPrefix(health.Upstream.URL, "http://127.0.0.1"))
}

func TestLoader(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/loader.js", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), injector.OptionsGlobal)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = f.do(http.MethodGet, "/loader.js", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestMark(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantMarked bool
	}{
		{
			name: "recaptcha tag",
			body: MarkRequest{
				Tag:    `<script src="https://www.google.com/recaptcha/api.js" id="recaptcha-js"></script>`,
				Handle: "metform-recaptcha",
				Src:    "https://www.google.com/recaptcha/api.js",
			},
			wantStatus: http.StatusOK,
			wantMarked: true,
		},
		{
			name: "other tag",
			body: MarkRequest{
				Tag:    `<script src="https://example.com/app.js"></script>`,
				Handle: "app",
				Src:    "https://example.com/app.js",
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid handle",
			body:       MarkRequest{Tag: "<script></script>", Handle: "bad handle"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "script URL scheme",
			body:       MarkRequest{Tag: "<script></script>", Src: "javascript:alert(1)"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed JSON",
			body:       `{"tag":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/mark", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Contains(t, w.Body.String(), `"error"`)
				return
			}

			var resp MarkResponse
			decode(t, w, &resp)
			assert.Equal(t, tt.wantMarked, resp.Marked)
			if tt.wantMarked {
				assert.Contains(t, resp.Tag, `data-recaptcha-defer="true"`)
			}
		})
	}
}

func TestEligibility(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name       string
		page       eligibility.Page
		wantLoad   bool
		wantReason string
	}{
		{"form page", eligibility.Page{Path: "/contact", HTML: formPage}, true, eligibility.ReasonFormSelector},
		{"front page", eligibility.Page{Path: "/", IsFrontPage: true}, true, eligibility.ReasonFrontPage},
		{"admin", eligibility.Page{Path: "/wp-admin/post.php", HTML: formPage}, false, eligibility.ReasonAdmin},
		{"plain page", eligibility.Page{Path: "/about", HTML: plainPage}, false, eligibility.ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/eligibility", tt.page)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var decision eligibility.Decision
			decode(t, w, &decision)
			assert.Equal(t, tt.wantLoad, decision.Load)
			assert.Equal(t, tt.wantReason, decision.Reason)
		})
	}

	w := f.do(http.MethodPost, "/api/eligibility", eligibility.Page{Path: "contact"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptimize(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/optimize", eligibility.Page{Path: "/contact", HTML: formPage})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Eligible bool   `json:"eligible"`
		Marked   int    `json:"marked"`
		Injected bool   `json:"injected"`
		Outcome  string `json:"outcome"`
		HTML     string `json:"html"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Eligible)
	assert.Equal(t, 1, resp.Marked)
	assert.True(t, resp.Injected)
	assert.Equal(t, monitoring.OutcomeRewritten, resp.Outcome)
	assert.Contains(t, resp.HTML, `id="`+injector.ScriptID+`"`)
	assert.Contains(t, resp.HTML, `data-recaptcha-defer="true"`)
}

func TestSimulate(t *testing.T) {
	f := newFixture(t, nil)

	type response struct {
		RunID    string                `json:"run_id"`
		Decision *eligibility.Decision `json:"decision"`
		Result   struct {
			Activated   bool          `json:"activated"`
			Trigger     string        `json:"trigger"`
			ActivatedAt time.Duration `json:"activated_at"`
		} `json:"result"`
	}

	t.Run("first interaction", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/simulate", SimulateRequest{
			HTML:     formPage,
			Path:     "/contact",
			Timeline: "click@200ms,scroll@300ms",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp response
		decode(t, w, &resp)
		assert.True(t, strings.HasPrefix(resp.RunID, "run_"), resp.RunID)
		require.NotNil(t, resp.Decision)
		assert.True(t, resp.Decision.Load)
		assert.True(t, resp.Result.Activated)
		assert.Equal(t, "click", resp.Result.Trigger)
		assert.Equal(t, 200*time.Millisecond, resp.Result.ActivatedAt)
	})

	t.Run("ineligible page never activates", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/simulate", SimulateRequest{
			HTML:     plainPage,
			Path:     "/about",
			Timeline: "click@200ms",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp response
		decode(t, w, &resp)
		require.NotNil(t, resp.Decision)
		assert.False(t, resp.Decision.Load)
		assert.False(t, resp.Result.Activated)
	})

	t.Run("eligibility override", func(t *testing.T) {
		eligible := true
		w := f.do(http.MethodPost, "/api/simulate", SimulateRequest{
			HTML:      plainPage,
			Eligible:  &eligible,
			TimeoutMs: 1500,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp response
		decode(t, w, &resp)
		assert.Nil(t, resp.Decision)
		assert.Equal(t, "timeout", resp.Result.Trigger)
		assert.Equal(t, 1500*time.Millisecond, resp.Result.ActivatedAt)
	})

	bad := []SimulateRequest{
		{HTML: formPage, Mode: "browser"},
		{HTML: formPage, Timeline: "click"},
		{HTML: formPage, TimeoutMs: -1},
		{HTML: formPage, UntilMs: int64(time.Hour / time.Millisecond)},
	}
	for _, req := range bad {
		w := f.do(http.MethodPost, "/api/simulate", req)
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	}
}

func TestProxy(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contact":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("ETag", `"origin"`)
			_, _ = w.Write([]byte(formPage))
		case "/about":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(plainPage))
		case "/style.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = w.Write([]byte("body{color:red}"))
		default:
			http.NotFound(w, r)
		}
	})

	w := f.do(http.MethodGet, "/contact", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `id="`+injector.ScriptID+`"`)
	assert.Contains(t, w.Body.String(), `data-recaptcha-defer="true"`)
	etag := w.Header().Get("ETag")
	assert.NotEqual(t, `"origin"`, etag)
	require.NotEmpty(t, etag)

	w = f.do(http.MethodGet, "/contact", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = f.do(http.MethodGet, "/about", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, plainPage, w.Body.String())

	w = f.do(http.MethodGet, "/style.css", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/css", w.Header().Get("Content-Type"))
	assert.Equal(t, "body{color:red}", w.Body.String())

	w = f.do(http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	snapshot := f.metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.PagesRewritten)
}

func TestProxyBreakerOpen(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *upstream.Config) {
		cfg.BreakerFailures = 1
	})

	w := f.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = f.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	w = f.do(http.MethodGet, "/health", nil)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

func TestProxyWithoutOrigin(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/contact", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsJSON(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodPost, "/api/optimize", eligibility.Page{Path: "/contact", HTML: formPage})

	w := f.do(http.MethodGet, "/metrics/json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Counters monitoring.MetricsSnapshot `json:"counters"`
		Summary  MetricsSummary             `json:"summary"`
	}
	decode(t, w, &resp)
	assert.Equal(t, int64(1), resp.Counters.PagesRewritten)
	assert.Equal(t, 1.0, resp.Summary.RewriteRate)
}
