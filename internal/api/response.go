package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// SuccessResponse wraps data in an "ok" envelope.
func SuccessResponse(data interface{}) *Response {
	return &Response{Result: "ok", Data: data, CorrelationID: newCorrelationID()}
}

// ErrorResponse builds an "error" envelope.
func ErrorResponse(code, message string, details interface{}) *Response {
	return &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: newCorrelationID(),
	}
}

// WriteSuccess replies 200 with data.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusOK, SuccessResponse(data))
}

// WriteAccepted replies 202 with data. Used when frames were queued but
// not yet written to the device.
func WriteAccepted(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusAccepted, SuccessResponse(data))
}

// WriteError replies status with an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	writeEnvelope(w, status, ErrorResponse(code, message, details))
}

// WriteEngineError replies with the envelope ToAPIError derives from err.
func WriteEngineError(w http.ResponseWriter, err error) {
	status, body := ToAPIError(err)
	writeJSON(w, status, body)
}

func writeEnvelope(w http.ResponseWriter, status int, env *Response) {
	body, err := json.Marshal(env)
	if err != nil {
		http.Error(w, "cannot encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, append(body, '\n'))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func newCorrelationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
