package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
)

// deviceActions maps the action path segment to a parameterless command.
var deviceActions = map[string]esp32.CommandKind{
	"connect":    esp32.CmdConnect,
	"disconnect": esp32.CmdDisconnect,
	"stop":       esp32.CmdStopMotors,
	"reboot":     esp32.CmdReboot,
	"sleep":      esp32.CmdSleep,
}

// MotorSpeedRequest is the body of POST /devices/{name}/motor.
type MotorSpeedRequest struct {
	Motor int     `json:"motor"`
	Speed float64 `json:"speed"`
}

// HapticEventRequest is the body of POST /devices/{name}/haptic.
type HapticEventRequest struct {
	Motor int `json:"motor"`
	Event int `json:"event"`
}

// CommandResponse reports an executed command.
type CommandResponse struct {
	Status  string            `json:"status"`
	Device  string            `json:"device"`
	Command esp32.CommandKind `json:"command"`
}

// handleListDevices returns every session from the last snapshot.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.manager.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     snap.Devices,
		"count":       len(snap.Devices),
		"connected":   snap.Connected(),
		"initialized": snap.Initialized,
		"updated_at":  snap.UpdatedAt,
	})
}

// handleGetDevice returns one session from the last snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, ok := s.manager.Snapshot().Device(name)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeviceAction runs connect, disconnect, stop, reboot or sleep.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	kind, ok := deviceActions[chi.URLParam(r, "action")]
	if !ok {
		writeNotFound(w, "unknown device action")
		return
	}
	s.executeCommand(w, r, esp32.Command{Kind: kind})
}

// handleMotorSpeed sets one motor's speed.
func (s *Server) handleMotorSpeed(w http.ResponseWriter, r *http.Request) {
	var req MotorSpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Motor < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "motor must be >= 0")
		return
	}
	if math.IsNaN(req.Speed) || req.Speed < 0 || req.Speed > 1 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "speed must be within 0..1")
		return
	}
	s.executeCommand(w, r, esp32.Command{Kind: esp32.CmdMotorSpeed, Motor: req.Motor, Speed: req.Speed})
}

// handleHapticEvent triggers a haptic pattern.
func (s *Server) handleHapticEvent(w http.ResponseWriter, r *http.Request) {
	var req HapticEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Motor < 0 || req.Event < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "motor and event must be >= 0")
		return
	}
	s.executeCommand(w, r, esp32.Command{Kind: esp32.CmdHapticEvent, Motor: req.Motor, Event: req.Event})
}

func (s *Server) executeCommand(w http.ResponseWriter, r *http.Request, cmd esp32.Command) {
	name := chi.URLParam(r, "name")

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.manager.Execute(ctx, name, cmd)
	s.recordCommand(r.Context(), name, cmd, err)
	if err != nil {
		s.logger.Warn("device command failed", "device", name, "command", cmd.Kind, "error", err)
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Status: "accepted", Device: name, Command: cmd.Kind})
}

// handleReloadDevices reloads the remote device list when configured and
// restarts the manager. A failed fetch still restarts with the devices
// already configured and is reported alongside the success status.
func (s *Server) handleReloadDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.reloader == nil {
		if err := s.manager.Do(ctx, s.manager.Restart); err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "restarted"})
		return
	}

	err := s.reloader.Load(ctx, s.manager)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
	case errors.Is(err, esp32.ErrDeviceListFetch):
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "restarted",
			"device_list_error": err.Error(),
		})
	default:
		writeManagerError(w, err)
	}
}
