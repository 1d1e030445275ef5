// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/utils"
	"github.com/gin-gonic/gin"
)

// Response is the envelope every JSON endpoint returns.
type Response struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Code:      http.StatusOK,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, Response{
		Code:      status,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func abortWithError(c *gin.Context, status int, message string) {
	respondError(c, status, message)
	c.Abort()
}

// paramError is a query parameter validation failure.
type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func badParam(format string, args ...any) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

// intParam reads an optional integer query parameter bounded by [min, max].
func intParam(c *gin.Context, name string, def, min, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badParam("%s must be an integer", name)
	}
	if n < min || n > max {
		return 0, badParam("%s must be between %d and %d", name, min, max)
	}
	return n, nil
}

// dateParam reads a YYYY-MM-DD query parameter as a date key. An empty
// value yields def, or an error when def is zero.
func dateParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		if def == 0 {
			return 0, badParam("%s is required", name)
		}
		return def, nil
	}
	t, err := utils.ParseDate(raw, time.UTC)
	if err != nil {
		return 0, badParam("%s must be a date in YYYY-MM-DD form", name)
	}
	return utils.DateKey(t), nil
}

func statusFor(err error) int {
	var pe *paramError
	if errors.As(err, &pe) || errors.Is(err, analytics.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
