package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/apperr"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get("request_id")

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

func RespondForbidden(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusForbidden, code, message, nil)
}

func RespondUnauthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondUnprocessable(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnprocessableEntity, code, message, nil)
}

func RespondServiceUnavailable(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusServiceUnavailable, code, message, nil)
}

// derefOr returns *p, or fallback when p is nil — response bodies take
// plain values, not pointers.
func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}

// RespondAppError maps an apperr.Kind to its §7 status code. Errors
// that aren't an *apperr.Error fall through to 500.
func RespondAppError(ctx *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		RespondInternal(ctx, "internal error")
		return
	}
	code := e.Code
	if code == "" {
		code = string(e.Kind)
	}
	switch e.Kind {
	case apperr.KindValidation:
		RespondUnprocessable(ctx, code, e.Message)
	case apperr.KindNotFound:
		RespondNotFound(ctx, e.Message)
	case apperr.KindConflict:
		RespondConflict(ctx, code, e.Message)
	case apperr.KindForbidden:
		RespondForbidden(ctx, code, e.Message)
	case apperr.KindUnauthorized:
		RespondUnauthorized(ctx, code, e.Message)
	case apperr.KindUnavailable:
		RespondServiceUnavailable(ctx, code, e.Message)
	default:
		RespondInternal(ctx, e.Message)
	}
}
