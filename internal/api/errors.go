package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/command"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/dispatch"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code, message string, statusCode int, details interface{}) *APIError {
	return &APIError{Code: code, Message: message, Details: details, StatusCode: statusCode}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrBadRequest marks malformed requests detected by the API layer.
var ErrBadRequest = errors.New("BAD_REQUEST")

// ToAPIError converts an error to an HTTP status code and envelope body.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	var ve *protocol.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, marshalErrorResponse("INVALID_RANGE", "Parameter value is outside the allowed range", map[string]interface{}{
			"parameter": ve.Param.String(),
			"value":     ve.Value,
			"reason":    ve.Reason,
		})
	}

	var pe *protocol.ParseError
	if errors.As(err, &pe) {
		return http.StatusBadRequest, marshalErrorResponse("BAD_REQUEST", "Frame does not match the frame grammar", map[string]interface{}{
			"frame":  pe.Frame,
			"reason": pe.Reason,
		})
	}

	switch {
	case errors.Is(err, protocol.ErrValidation):
		return http.StatusBadRequest, marshalErrorResponse("INVALID_RANGE", err.Error(), nil)
	case errors.Is(err, command.ErrInvalidParameter), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, marshalErrorResponse("BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, refresh.ErrRefreshInProgress):
		return http.StatusConflict, marshalErrorResponse("BUSY", "A refresh is already running", details(err))
	case errors.Is(err, command.ErrAlreadyConnected):
		return http.StatusConflict, marshalErrorResponse("BUSY", err.Error(), nil)
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable, marshalErrorResponse("UNAVAILABLE", "Generator is not connected", nil)
	case errors.Is(err, transport.ErrConnect), errors.Is(err, transport.ErrWrite):
		return http.StatusBadGateway, marshalErrorResponse("BAD_GATEWAY", err.Error(), nil)
	}

	return http.StatusInternalServerError, marshalErrorResponse("INTERNAL", "Internal server error", map[string]interface{}{
		"original": err.Error(),
	})
}

func details(err error) interface{} {
	var busy *refresh.RefreshInProgressError
	if errors.As(err, &busy) {
		return map[string]int{"index": busy.Index, "total": busy.Total}
	}
	return nil
}

func marshalErrorResponse(code, message string, details interface{}) []byte {
	data, err := json.Marshal(ErrorResponse(code, message, details))
	if err != nil {
		data, _ = json.Marshal(ErrorResponse("INTERNAL", "Failed to marshal error response", nil))
	}
	return data
}
