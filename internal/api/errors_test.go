package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/command"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/dispatch"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{protocol.ErrValidation, http.StatusBadRequest, "INVALID_RANGE"},
		{&protocol.ParseError{Frame: "x", Reason: "no colon"}, http.StatusBadRequest, "BAD_REQUEST"},
		{fmt.Errorf("wrapped: %w", command.ErrInvalidParameter), http.StatusBadRequest, "BAD_REQUEST"},
		{ErrBadRequest, http.StatusBadRequest, "BAD_REQUEST"},
		{refresh.ErrRefreshInProgress, http.StatusConflict, "BUSY"},
		{command.ErrAlreadyConnected, http.StatusConflict, "BUSY"},
		{transport.ErrNotConnected, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{dispatch.ErrClosed, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{transport.ErrConnect, http.StatusBadGateway, "BAD_GATEWAY"},
		{transport.ErrWrite, http.StatusBadGateway, "BAD_GATEWAY"},
		{NewAPIError("CUSTOM", "custom", http.StatusTeapot, nil), http.StatusTeapot, "CUSTOM"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		status, body := ToAPIError(tt.err)
		if status != tt.status {
			t.Errorf("ToAPIError(%v) status = %d, want %d", tt.err, status, tt.status)
		}
		var resp Response
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("ToAPIError(%v) body is not JSON: %v", tt.err, err)
		}
		if resp.Code != tt.code {
			t.Errorf("ToAPIError(%v) code = %q, want %q", tt.err, resp.Code, tt.code)
		}
		if resp.Result != "error" {
			t.Errorf("ToAPIError(%v) result = %q, want error", tt.err, resp.Result)
		}
	}
}

func TestToAPIErrorNil(t *testing.T) {
	status, body := ToAPIError(nil)
	if status != http.StatusOK || body != nil {
		t.Errorf("ToAPIError(nil) = %d, %q, want 200, nil", status, body)
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := &protocol.ValidationError{Param: protocol.ID(protocol.Ch2, protocol.KindDuty), Value: 120, Reason: "above 99.9"}
	_, body := ToAPIError(fmt.Errorf("setParameter: %w", err))

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	details, ok := resp.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("details = %T, want object", resp.Details)
	}
	if details["parameter"] != "ch2.duty-cycle" {
		t.Errorf("parameter = %v, want ch2.duty-cycle", details["parameter"])
	}
	if details["value"] != 120.0 {
		t.Errorf("value = %v, want 120", details["value"])
	}
}
