package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoyo3287258/command-gateway/internal/agent"
	"github.com/yoyo3287258/command-gateway/internal/model"
)

const (
	errorCodeInvalidRequest  = "invalid_request"
	errorCodeMalformedJSON   = "malformed_json"
	errorCodeRequestTooLarge = "request_too_large"
	errorCodeRateLimited     = "rate_limited"
	errorCodeInternal        = "internal_error"
)

var errRateLimited = errors.New("请求过于频繁")

// apiError 错误响应体
type apiError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	TraceID        string `json:"trace_id,omitempty"`
	Field          string `json:"field,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

// mapError 将错误映射为HTTP状态码和错误响应
func mapError(err error) (int, apiError) {
	var validationErr *model.ValidationError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, apiError{Code: errorCodeInvalidRequest, Message: err.Error(), Field: validationErr.Field}
	case errors.Is(err, model.ErrMalformedCommand):
		return http.StatusBadRequest, apiError{Code: errorCodeMalformedJSON, Message: err.Error()}
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, apiError{Code: errorCodeRequestTooLarge, Message: err.Error()}
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, apiError{Code: errorCodeRateLimited, Message: err.Error()}
	}

	switch kind := agent.Kind(err); kind {
	case agent.KindUpstreamTimeout:
		return http.StatusGatewayTimeout, apiError{Code: kind, Message: err.Error()}
	case agent.KindUpstreamUnreachable, agent.KindMalformedResponse:
		return http.StatusBadGateway, apiError{Code: kind, Message: err.Error()}
	case agent.KindUpstreamError:
		return http.StatusBadGateway, apiError{Code: kind, Message: err.Error(), UpstreamStatus: agent.StatusCode(err)}
	}

	return http.StatusInternalServerError, apiError{Code: errorCodeInternal, Message: "内部错误"}
}

// abortWithError 记录错误并返回错误响应
func abortWithError(c *gin.Context, err error) int {
	status, body := mapError(err)
	body.TraceID = c.GetString(traceIDKey)

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, apiErrorResponse{Error: body})
	return status
}
