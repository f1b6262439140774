package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/marker"
	"github.com/GriffinCanCode/recaptcha-defer/internal/optimizer"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/utils"
)

// MarkRequest is one emitted script tag
type MarkRequest struct {
	Tag    string `json:"tag"`
	Handle string `json:"handle"`
	Src    string `json:"src"`
}

// MarkResponse carries the tag as it should be emitted
type MarkResponse struct {
	Tag    string `json:"tag"`
	Marked bool   `json:"marked"`
}

// Mark rewrites a script tag the way the host's tag filter would
func (h *Handlers) Mark(c *gin.Context) {
	var req MarkRequest
	if err := bindJSON(c, apiJSON, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := utils.ValidateMarkup(req.Tag, "tag", utils.MaxTagSize); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateHandle(req.Handle, false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateScriptURL(req.Src, "src", false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag := marker.Tag(req.Tag, req.Handle, req.Src)
	c.JSON(http.StatusOK, MarkResponse{
		Tag:    tag,
		Marked: tag != req.Tag,
	})
}

// Eligibility decides whether a page gets the deferred loader
func (h *Handlers) Eligibility(c *gin.Context) {
	var page eligibility.Page
	if err := bindJSON(c, pageJSON, &page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validatePage(page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision := h.optimizer.Gate().Decide(page)
	h.metrics.TrackDecision(decision.Reason, decision.Load)
	c.JSON(http.StatusOK, decision)
}

// OptimizeResponse is the optimizer result with the rewritten page
type OptimizeResponse struct {
	*optimizer.Result
	HTML string `json:"html"`
}

// Optimize rewrites a submitted page. The page's html field is the body
// that gets rewritten.
func (h *Handlers) Optimize(c *gin.Context) {
	var page eligibility.Page
	if err := bindJSON(c, pageJSON, &page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validatePage(page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body := []byte(page.HTML)
	page.HTML = ""
	res, err := h.optimizer.Process(c.Request.Context(), page, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, OptimizeResponse{
		Result: res,
		HTML:   string(res.HTML),
	})
}

func validatePage(page eligibility.Page) error {
	if err := utils.ValidatePath(page.Path, false); err != nil {
		return err
	}
	if err := utils.ValidateMarkup(page.Content, "content", utils.MaxPageSize); err != nil {
		return err
	}
	return utils.ValidateMarkup(page.HTML, "html", utils.MaxPageSize)
}
