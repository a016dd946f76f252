// Package errutil задаёт коды ошибок ретранслятора и помогает их логировать и отображать в HTTP.
package errutil

import (
	"log/slog"
	"net/http"

	"github.com/samber/oops"
)

// Коды ошибок.
const (
	CodeConnectionNotFound = "CONNECTION_NOT_FOUND"
	CodeConnectionClosed   = "CONNECTION_CLOSED"
	CodeQueueFull          = "QUEUE_FULL"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeTransport          = "TRANSPORT_ERROR"
	CodeSourceClosed       = "SOURCE_CLOSED"
	CodeChannel            = "CHANNEL_ERROR"
	CodeAuth               = "AUTH_ERROR"
	CodeConfig             = "CONFIG_ERROR"
	CodeUnknown            = "UNKNOWN"
)

// Code возвращает код oops-ошибки или пустую строку.
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code, ok := any(oopsErr.Code()).(string); ok {
		return code
	}
	return ""
}

// Is сообщает, имеет ли ошибка указанный код.
func Is(err error, code string) bool {
	return Code(err) == code
}

// HTTPStatus сопоставляет коду ошибки HTTP-статус для control plane.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeTransport, CodeSourceClosed:
		return http.StatusBadGateway
	case CodeConnectionNotFound, CodeConnectionClosed, CodeQueueFull:
		return http.StatusServiceUnavailable
	case CodeChannel:
		return http.StatusBadRequest
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Summary — короткое описание ошибки для ответа клиенту.
func Summary(err error) string {
	switch Code(err) {
	case CodeTransport, CodeSourceClosed:
		return "Failed to reach chat service"
	case CodeConnectionNotFound, CodeConnectionClosed, CodeQueueFull:
		return "Failed to deliver to connection"
	case CodeChannel:
		return "Invalid channel operation"
	case CodeAuth:
		return "Authentication failed"
	case CodeUserNotFound:
		return "User not found"
	default:
		return "Internal server error"
	}
}

// LogError пишет ошибку в лог; для oops-ошибок добавляет код и контекст.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := Code(err); code != "" {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
		return
	}
	logger.Error(msg, append(attrs, "error", err)...)
}
