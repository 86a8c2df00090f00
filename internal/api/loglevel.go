package api

import (
	"encoding/json"
	"net/http"
)

// LogLevelRequest is the body of PUT /api/v1/log-level.
type LogLevelRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleGetLogLevel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LogLevelRequest{Level: s.logger.Level()})
}

// handleSetLogLevel changes the service-wide log level until restart.
func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req LogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.logger.SetLevel(req.Level); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	s.logger.Info("log level changed", "level", s.logger.Level())
	writeJSON(w, http.StatusOK, LogLevelRequest{Level: s.logger.Level()})
}
