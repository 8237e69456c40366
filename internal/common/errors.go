// Package common provides shared utilities used across all features
package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// HttpError represents an HTTP error with status code and message
type HttpError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s %s", e.StatusCode, e.Code, e.Message)
}

func messageOrDefault(msg string, defaultMsg string) string {
	if msg != "" {
		return msg
	}
	return defaultMsg
}

// HTTP Error constructors

func HTTPErrorBadRequest(msg string) *HttpError {
	return &HttpError{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    messageOrDefault(msg, "Bad request"),
	}
}

func HTTPErrorNotFound(msg string) *HttpError {
	return &HttpError{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    messageOrDefault(msg, "Not found"),
	}
}

func HTTPErrorInternalError(msg string) *HttpError {
	return &HttpError{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    messageOrDefault(msg, "Internal server error"),
	}
}

func HTTPErrorServiceUnavailable(msg string) *HttpError {
	return &HttpError{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    messageOrDefault(msg, "Service unavailable"),
	}
}

func HTTPErrorGatewayTimeout(msg string) *HttpError {
	return &HttpError{
		StatusCode: http.StatusGatewayTimeout,
		Code:       "GATEWAY_TIMEOUT",
		Message:    messageOrDefault(msg, "Upstream timeout"),
	}
}

// HTTPErrorFromRouting maps a routing failure to an HttpError whose Code is the
// routing error kind, so clients can branch on it without parsing messages.
func HTTPErrorFromRouting(err error) *HttpError {
	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	kind := domain.Kind(err)
	var out *HttpError
	switch kind {
	case domain.KindInvalidRequest, domain.KindUnsupportedChain:
		out = HTTPErrorBadRequest(err.Error())
	case domain.KindNoCandidatePools, domain.KindNoRouteFound:
		out = HTTPErrorNotFound(err.Error())
	case domain.KindNoPoolDataAvailable, domain.KindGasPriceUnavailable:
		out = HTTPErrorServiceUnavailable(err.Error())
	case domain.KindProviderTimeout, domain.KindCanceled:
		out = HTTPErrorGatewayTimeout(err.Error())
	default:
		out = HTTPErrorInternalError(err.Error())
	}
	out.Code = string(kind)
	return out
}
