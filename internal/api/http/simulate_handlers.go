package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/id"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/utils"
	"github.com/GriffinCanCode/recaptcha-defer/internal/simulate"
)

// SimulateRequest describes a visit to replay
type SimulateRequest struct {
	HTML string `json:"html"`
	Path string `json:"path"`
	Mode string `json:"mode"`
	// Eligible overrides the gate; when absent the gate decides from the
	// path and the page
	Eligible  *bool  `json:"eligible,omitempty"`
	Timeline  string `json:"timeline"`
	TimeoutMs int64  `json:"timeout_ms"`
	UntilMs   int64  `json:"until_ms"`
	Widget    bool   `json:"widget"`
	BaseURL   string `json:"base_url"`
}

// SimulateResponse carries the run report
type SimulateResponse struct {
	RunID    string                `json:"run_id"`
	Decision *eligibility.Decision `json:"decision,omitempty"`
	Result   *simulate.Result      `json:"result"`
}

// Simulate replays a timeline against the engine or the browser loader
func (h *Handlers) Simulate(c *gin.Context) {
	var req SimulateRequest
	if err := bindJSON(c, pageJSON, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := h.simulateOptions(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := SimulateResponse{RunID: string(id.NewRunID())}
	if req.Eligible != nil {
		opts.Eligible = *req.Eligible
	} else {
		decision := h.optimizer.Gate().Decide(eligibility.Page{Path: req.Path, HTML: req.HTML})
		h.metrics.TrackDecision(decision.Reason, decision.Load)
		opts.Eligible = decision.Load
		resp.Decision = &decision
	}

	res, err := simulate.Run(c.Request.Context(), req.HTML, opts)
	if err != nil {
		h.logger.Warn("Simulation failed",
			zap.String("run_id", resp.RunID),
			zap.String("mode", string(opts.Mode)),
			zap.Error(err),
		)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "run_id": resp.RunID})
		return
	}
	h.metrics.TrackSimulation(string(res.Mode), res.Trigger)

	resp.Result = res
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) simulateOptions(req SimulateRequest) (simulate.Options, error) {
	var opts simulate.Options

	if err := utils.ValidateMarkup(req.HTML, "html", utils.MaxPageSize); err != nil {
		return opts, err
	}
	if err := utils.ValidatePath(req.Path, false); err != nil {
		return opts, err
	}
	if err := utils.ValidateScriptURL(req.BaseURL, "base_url", false); err != nil {
		return opts, err
	}

	mode, err := simulate.ParseMode(req.Mode)
	if err != nil {
		return opts, err
	}
	steps, err := simulate.ParseTimeline(req.Timeline)
	if err != nil {
		return opts, err
	}
	if len(steps) > utils.MaxTimelineSteps {
		return opts, fmt.Errorf("timeline has %d steps, maximum is %d", len(steps), utils.MaxTimelineSteps)
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	until := time.Duration(req.UntilMs) * time.Millisecond
	if timeout < 0 || until < 0 {
		return opts, fmt.Errorf("timeout_ms and until_ms must not be negative")
	}
	if timeout > utils.MaxSimulatedSpan || until > utils.MaxSimulatedSpan {
		return opts, fmt.Errorf("simulated span must not exceed %s", utils.MaxSimulatedSpan)
	}
	for _, step := range steps {
		if step.At > utils.MaxSimulatedSpan {
			return opts, fmt.Errorf("step %s is beyond %s", step, utils.MaxSimulatedSpan)
		}
	}
	if timeout == 0 {
		timeout = h.optimizer.Options().Timeout
	}

	opts = simulate.Options{
		Mode:     mode,
		Timeout:  timeout,
		Timeline: steps,
		Until:    until,
		Widget:   req.Widget,
		BaseURL:  req.BaseURL,
		Logger:   h.logger,
	}
	if mode == simulate.ModeLoader {
		opts.Pool = h.pool
	}
	return opts, nil
}
