package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/esp32-osc-core/internal/directory"
)

// registryAck is the plain-text body firmware expects after registering.
const registryAck = "OK IP PUBLISHED"

// handleRegistryUpdate stores a device's self-reported details.
//
// Query parameters: name, ip, wifi, battery, motor, firmware.
// The factory default name is accepted but not stored.
func (s *Server) handleRegistryUpdate(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device directory not configured")
		return
	}

	q := r.URL.Query()
	entry := directory.Entry{
		Name:     q.Get("name"),
		IP:       q.Get("ip"),
		WiFi:     q.Get("wifi"),
		Battery:  q.Get("battery"),
		Motor:    q.Get("motor"),
		Firmware: q.Get("firmware"),
	}

	err := s.directory.Upsert(r.Context(), entry)
	switch {
	case err == nil:
		s.logger.Debug("device registered", "name", entry.Name, "ip", entry.IP)
	case errors.Is(err, directory.ErrDefaultName):
		s.logger.Debug("ignoring registration with factory name", "ip", entry.IP)
	case errors.Is(err, directory.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	default:
		s.logger.Error("device registration failed", "name", entry.Name, "error", err)
		writeInternalError(w, "failed to store device")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write([]byte(registryAck))
}

// handleRegistryDevices serves the directory as {"data": [...]}, the
// format the device list loader reads.
func (s *Server) handleRegistryDevices(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device directory not configured")
		return
	}

	entries, err := s.directory.List(r.Context())
	if err != nil {
		s.logger.Error("listing device directory failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, directory.Document{Data: entries})
}
