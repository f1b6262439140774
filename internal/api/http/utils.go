package http

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/utils"
)

var (
	apiJSON  = utils.DefaultJSONValidator()
	pageJSON = utils.NewJSONSizeValidator(utils.MaxPageSize + utils.MaxJSONSize)
)

// bindJSON reads the request body within the validator's limit and decodes
// it into v
func bindJSON(c *gin.Context, validator *utils.JSONSizeValidator, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(validator.MaxSize())+1))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := validator.ValidateJSON(data); err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request format: %w", err)
	}
	return nil
}
