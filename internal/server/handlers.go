package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/heartbeat"
	"github.com/marcus-qen/statuswatch/internal/incident"
	"github.com/marcus-qen/statuswatch/internal/monitor"
	"github.com/marcus-qen/statuswatch/internal/webhook"
)

func monitorID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	page, err := s.engine.Status()
	if err != nil {
		s.logger.Error("assemble status", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to assemble status")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := s.engine.Monitors().List()
	if err != nil {
		s.logger.Error("list monitors", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to list monitors")
		return
	}
	if monitors == nil {
		monitors = []monitor.Monitor{}
	}
	writeJSON(w, http.StatusOK, monitors)
}

func (s *Server) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var m monitor.Monitor
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor payload")
		return
	}
	created, err := s.engine.CreateMonitor(m)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_monitor", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := monitorID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor id")
		return
	}
	detail, err := s.engine.Detail(id)
	if errors.Is(err, monitor.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "monitor not found")
		return
	}
	if err != nil {
		s.logger.Error("monitor detail", zap.Int64("monitor_id", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to load monitor")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := monitorID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor id")
		return
	}
	var m monitor.Monitor
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor payload")
		return
	}
	m.ID = id
	updated, err := s.engine.UpdateMonitor(m)
	if errors.Is(err, monitor.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "monitor not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_monitor", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := monitorID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor id")
		return
	}
	if err := s.engine.DeleteMonitor(id); err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "monitor not found")
			return
		}
		s.logger.Error("delete monitor", zap.Int64("monitor_id", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to delete monitor")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	id, err := monitorID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor id")
		return
	}
	if err := s.engine.TriggerCheck(id); err != nil {
		writeJSONError(w, http.StatusNotFound, "not_scheduled", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "check scheduled"})
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := monitorID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor id")
		return
	}
	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid maintenance payload")
		return
	}
	if err := s.engine.SetMaintenance(id, req.Enabled); err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "monitor not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"maintenance": req.Enabled})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := monitorID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid monitor id")
		return
	}

	// An empty body is a valid beat; malformed JSON is not.
	var beat heartbeat.Beat
	if err := json.NewDecoder(r.Body).Decode(&beat); err != nil {
		if !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid heartbeat payload")
			return
		}
	}

	if err := s.engine.RecordHeartbeat(id, beat); err != nil {
		writeJSONError(w, http.StatusNotFound, "unknown_monitor", "no heartbeat monitor with that id")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var incidents []*incident.Incident
	var err error
	switch r.URL.Query().Get("resolved") {
	case "":
		incidents, err = s.engine.RecentIncidents(limit)
	case "true":
		incidents, err = s.engine.RecentIncidentsByState(incident.StateResolved, limit)
	case "false":
		incidents, err = s.engine.RecentIncidentsByState(incident.StateOpen, limit)
	default:
		writeJSONError(w, http.StatusBadRequest, "bad_request", "resolved must be true or false")
		return
	}
	if err != nil {
		s.logger.Error("list incidents", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.engine.Incident(r.PathValue("id"))
	if errors.Is(err, incident.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "incident not found")
		return
	}
	if err != nil {
		s.logger.Error("get incident", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to load incident")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notifier.List())
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var ep webhook.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid webhook payload")
		return
	}
	if ep.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "url is required")
		return
	}
	writeJSON(w, http.StatusCreated, s.notifier.Register(ep))
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	s.notifier.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dashboards connect from arbitrary origins; the stream is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsWS streams engine events to a websocket client until it
// disconnects.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	subID := "ws-" + uuid.NewString()
	ch := s.engine.Bus().Subscribe(subID)
	defer s.engine.Bus().Unsubscribe(subID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, evt.JSON()); err != nil {
				return
			}
		}
	}
}
