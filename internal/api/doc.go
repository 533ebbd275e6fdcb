// Package api serves the HTTP control surface of the generator controller.
//
// All JSON responses use one envelope:
//
//	{"result":"ok|error","data":...,"code":...,"message":...,"details":...,"correlationId":...}
//
// Engine errors are mapped onto the envelope codes by ToAPIError. Event
// streams (SSE and websocket) are served by the telemetry hub.
package api
