package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

// upstreamErrorBody matches both our own httputil.ErrorResponse and the
// OpenAI-style error envelope ({"error":{"message","type","code"}}).
type upstreamErrorBody struct {
	Error *struct {
		Code    any    `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads a non-2xx response and converts it into an error
// that keeps the upstream semantics: 400/422 become InvalidInput, 404
// NotFound, 409 Conflict, 429/502/503/504 Unavailable. The body is consumed
// and closed.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", service, resp.StatusCode, err)
	}

	message := string(raw)
	var body upstreamErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != nil && body.Error.Message != "" {
		message = body.Error.Message
	}

	return mapUpstreamError(resp.StatusCode, message, service)
}

func mapUpstreamError(status int, message, service string) error {
	qualified := fmt.Sprintf("%s: %s", service, message)

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(qualified)
	case http.StatusNotFound:
		return apperrors.NotFound(service, "resource")
	case http.StatusConflict:
		return apperrors.Conflict(qualified, nil)
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apperrors.Unavailable(service, fmt.Errorf("status %d: %s", status, message))
	default:
		return fmt.Errorf("%s returned status %d: %s", service, status, message)
	}
}
