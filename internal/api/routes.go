package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/auth"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/command"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	if s.metrics != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware.RequireScope(auth.ScopeRead))
			r.Get("/capabilities", s.handleCapabilities)
			r.Get("/state", s.handleState)
			r.Get("/connection", s.handleGetConnection)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware.RequireScope(auth.ScopeControl))
			r.Post("/connection", s.handleConnect)
			r.Delete("/connection", s.handleDisconnect)
			r.Put("/parameters/{id}", s.handleSetParameter)
			r.Post("/parameters/{id}/read", s.handleReadParameter)
			r.Put("/channels/{ch}/output", s.handleSetOutput)
			r.Post("/channels/{ch}/apply", s.handleApply)
			r.Post("/frames", s.handleSendFrame)
			r.Post("/refresh", s.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware.RequireScope(auth.ScopeTelemetry))
			r.Get("/telemetry", s.handleTelemetry)
			r.Get("/ws", s.handleWebsocket)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.controller.Status()
	WriteSuccess(w, map[string]interface{}{
		"status":    "ok",
		"uptimeSec": int(time.Since(s.startTime).Seconds()),
		"connected": status.Connected,
	})
}

type parameterInfo struct {
	ID        string `json:"id"`
	Code      int    `json:"code"`
	ReadOnly  bool   `json:"readOnly"`
	Companion string `json:"companion,omitempty"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	ids := protocol.Parameters()
	params := make([]parameterInfo, 0, len(ids))
	for _, id := range ids {
		code, _ := protocol.CodeOf(id)
		info := parameterInfo{ID: id.String(), Code: code, ReadOnly: protocol.IsReadOnly(id)}
		if c, ok := protocol.Companion(id); ok {
			info.Companion = c.String()
		}
		params = append(params, info)
	}

	WriteSuccess(w, map[string]interface{}{
		"parameters":      params,
		"codes":           protocol.Codes(),
		"waveforms":       protocol.Waveforms(),
		"modulationTypes": protocol.ModulationTypes(),
		"frequencyUnits":  protocol.FrequencyUnits(),
		"refreshSequence": refresh.Sequence(),
		"telemetry":       []string{"sse", "websocket"},
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.controller.Snapshot())
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.controller.Status())
}

type connectRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if err := s.controller.Connect(r.Context(), req.Address); err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteSuccess(w, s.controller.Status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Disconnect(r.Context()); err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteSuccess(w, s.controller.Status())
}

type setParameterRequest struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit,omitempty"`
}

func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := parameterFromPath(w, r)
	if !ok {
		return
	}
	var req setParameterRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Value == nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Missing value", nil)
		return
	}

	var err error
	switch {
	case req.Unit == "":
		err = s.controller.SetParameter(r.Context(), id, *req.Value)
	case id.Kind == protocol.KindFrequency:
		unit, uerr := protocol.ParseFrequencyUnit(req.Unit)
		if uerr != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", uerr.Error(), nil)
			return
		}
		err = s.controller.SetFrequency(r.Context(), id.Channel, *req.Value, unit)
	default:
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Only frequency parameters take a unit", nil)
		return
	}
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	data := map[string]interface{}{"parameter": id.String(), "value": *req.Value}
	if req.Unit != "" {
		data["unit"] = req.Unit
	}
	WriteAccepted(w, data)
}

func (s *Server) handleReadParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := parameterFromPath(w, r)
	if !ok {
		return
	}
	if err := s.controller.Query(r.Context(), id); err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteAccepted(w, map[string]string{"parameter": id.String()})
}

type setOutputRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetOutput(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelFromPath(w, r)
	if !ok {
		return
	}
	var req setOutputRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Enabled == nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Missing enabled", nil)
		return
	}
	if err := s.controller.SetOutput(r.Context(), ch, *req.Enabled); err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteAccepted(w, map[string]interface{}{"channel": int(ch), "enabled": *req.Enabled})
}

type applyRequest struct {
	Waveform  int     `json:"waveform"`
	Frequency float64 `json:"frequency"`
	Unit      string  `json:"unit"`
	Amplitude float64 `json:"amplitude"`
	Offset    float64 `json:"offset"`
	Duty      float64 `json:"duty"`
	Phase     float64 `json:"phase"`
	Output    bool    `json:"output"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelFromPath(w, r)
	if !ok {
		return
	}
	req := applyRequest{Unit: protocol.Hz.String(), Duty: 50}
	if !decodeJSON(w, r, &req, false) {
		return
	}
	unit, err := protocol.ParseFrequencyUnit(req.Unit)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	settings := command.ChannelSettings{
		Waveform:  req.Waveform,
		Frequency: req.Frequency,
		Unit:      unit,
		Amplitude: req.Amplitude,
		Offset:    req.Offset,
		Duty:      req.Duty,
		Phase:     req.Phase,
		Output:    req.Output,
	}
	if err := s.controller.ApplyAll(r.Context(), ch, settings); err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteAccepted(w, map[string]interface{}{"channel": int(ch), "settings": settings})
}

type sendFrameRequest struct {
	Frame string `json:"frame"`
}

func (s *Server) handleSendFrame(w http.ResponseWriter, r *http.Request) {
	var req sendFrameRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	f, err := s.controller.SendRaw(r.Context(), req.Frame)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteAccepted(w, map[string]string{"frame": f.String()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Refresh(r.Context()); err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteAccepted(w, map[string]int{"total": len(refresh.Sequence())})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry not available", nil)
		return
	}
	s.telemetryHub.ServeSSE(w, r)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry not available", nil)
		return
	}
	s.telemetryHub.ServeWS(w, r)
}

// decodeJSON strictly decodes the request body into v. With allowEmpty an
// empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return false
	}
	// Trailing data check
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return false
	}
	return true
}

func parameterFromPath(w http.ResponseWriter, r *http.Request) (protocol.ParameterID, bool) {
	id, err := protocol.ParseParameterID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return protocol.ParameterID{}, false
	}
	return id, true
}

func channelFromPath(w http.ResponseWriter, r *http.Request) (protocol.Channel, bool) {
	switch strings.TrimPrefix(chi.URLParam(r, "ch"), "ch") {
	case "1":
		return protocol.Ch1, true
	case "2":
		return protocol.Ch2, true
	}
	WriteError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("unknown channel %q", chi.URLParam(r, "ch")), nil)
	return protocol.Shared, false
}
