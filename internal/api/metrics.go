package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/mqtt"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
	Telemetry     *TelemetryMetrics `json:"telemetry,omitempty"`
	Manager       ManagerMetrics    `json:"manager"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
	mqtt.Stats
}

// TelemetryMetrics contains InfluxDB writer statistics.
type TelemetryMetrics struct {
	Connected bool `json:"connected"`
	influxdb.Stats
}

// ManagerMetrics summarises the session manager.
type ManagerMetrics struct {
	Enabled     bool                `json:"enabled"`
	Initialized bool                `json:"initialized"`
	Devices     int                 `json:"devices"`
	ByState     map[string]int      `json:"by_state"`
	Receiver    esp32.ReceiverStats `json:"receiver"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	SizeBytes       int64 `json:"size_bytes,omitempty"`
}

// handleMetrics returns runtime, manager and transport statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := s.manager.Snapshot()
	byState := make(map[string]int)
	for _, d := range snap.Devices {
		byState[d.State.String()]++
	}

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount(), DroppedMessages: s.hub.Dropped()},
		Manager: ManagerMetrics{
			Enabled:     snap.Enabled,
			Initialized: snap.Initialized,
			Devices:     len(snap.Devices),
			ByState:     byState,
			Receiver:    snap.Receiver,
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected(), Stats: s.mqtt.Stats()}
	}
	if s.telemetry != nil {
		metrics.Telemetry = &TelemetryMetrics{Connected: s.telemetry.IsConnected(), Stats: s.telemetry.Stats()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
		if size, err := s.db.SizeBytes(); err == nil {
			metrics.Database.SizeBytes = size
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
