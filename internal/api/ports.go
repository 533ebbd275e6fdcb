package api

import "net/http"

// TelemetryPort serves the event streams.
type TelemetryPort interface {
	ServeSSE(w http.ResponseWriter, r *http.Request)
	ServeWS(w http.ResponseWriter, r *http.Request)
}
