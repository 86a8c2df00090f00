package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/esp32-osc-core/internal/audit"
	"github.com/nerrad567/esp32-osc-core/internal/esp32"
)

// handleListAudit returns the command history, most recent first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command history not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Device: q.Get("device"),
		Source: q.Get("source"),
		Status: q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command history", "error", err)
		writeInternalError(w, "failed to list command history")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recordCommand stores one executed command. Failures are logged only.
func (s *Server) recordCommand(ctx context.Context, device string, cmd esp32.Command, execErr error) {
	if s.audit == nil {
		return
	}

	e := &audit.Entry{
		Device:  device,
		Command: string(cmd.Kind),
		Source:  audit.SourceAPI,
		Status:  audit.StatusAccepted,
	}
	switch cmd.Kind {
	case esp32.CmdMotorSpeed:
		e.Params = map[string]any{"motor": cmd.Motor, "speed": cmd.Speed}
	case esp32.CmdHapticEvent:
		e.Params = map[string]any{"motor": cmd.Motor, "event": cmd.Event}
	}
	if execErr != nil {
		e.Status = audit.StatusFailed
		e.Error = execErr.Error()
	}

	if err := s.audit.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to record command", "device", device, "error", err)
	}
}
