package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/aman-zulfiqar/defi-nlq/internal/ai"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// NotFoundJSON returns a custom HTTP error handler that returns JSON responses
// This ensures all errors (including 404s) have consistent JSON format
func NotFoundJSON() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		// Don't send response if already committed
		if c.Response().Committed {
			return
		}

		// Handle Echo HTTP errors (like 404, 400, etc.)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, ErrorResponse{
				Error: http.StatusText(he.Code),
				Code:  he.Code,
			})
			return
		}

		// Handle all other errors as internal server error
		_ = c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  http.StatusInternalServerError,
		})
	}
}

// askError maps a failed question to its status and envelope. Database
// diagnostics of an exhausted retry loop are always returned; raw detail of
// other failures only in dev mode.
func askError(err error, devMode bool) (int, AskErrorResponse) {
	resp := AskErrorResponse{Message: ai.FriendlyMessage(err)}

	var (
		connErr *storage.ConnError
		failure *ai.ExecutionFailure
	)
	switch {
	case errors.As(err, &connErr):
		resp.Status = http.StatusServiceUnavailable
		resp.Error = "database unavailable"
	case errors.Is(err, ai.ErrPlannerUnavailable):
		resp.Status = http.StatusBadGateway
		resp.Error = "model provider unavailable"
	case errors.As(err, &failure):
		resp.Status = http.StatusUnprocessableEntity
		resp.Error = "query failed"
		resp.Detail = failure.Err.Error()
		resp.SQL = failure.LastSQL
		resp.RetryCount = failure.RetryCount
		resp.OriginalError = failure.OriginalError()

		var qe *storage.QueryError
		if errors.As(failure.Err, &qe) {
			resp.Code = qe.Code
			resp.Hint = qe.Hint
			resp.Position = qe.Position
		}
		return resp.Status, resp
	case errors.Is(err, context.DeadlineExceeded):
		resp.Status = http.StatusGatewayTimeout
		resp.Error = "timeout"
	default:
		resp.Status = http.StatusInternalServerError
		resp.Error = "ai ask failed"
	}

	if devMode {
		resp.Detail = err.Error()
	}
	return resp.Status, resp
}

// requestValidator adapts validator/v10 to echo.Validator.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (r *requestValidator) Validate(i any) error {
	return r.v.Struct(i)
}

// fieldErrors flattens validation failures to field -> failed rule.
func fieldErrors(err error) map[string]any {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil
	}
	out := make(map[string]any, len(ves))
	for _, fe := range ves {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
