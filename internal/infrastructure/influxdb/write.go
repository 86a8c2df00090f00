package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementBattery    = "esp32_battery"
	MeasurementHeartbeat  = "esp32_heartbeat"
	MeasurementConnection = "esp32_connection"
)

// WriteBatteryTelemetry records the battery reading carried by an info message.
//
// Example:
//
//	client.WriteBatteryTelemetry("box-01", "10.0.0.5", 3.9, 0.57)
func (c *Client) WriteBatteryTelemetry(device, address string, voltage, level float64) {
	c.writePoint(batteryPoint(device, address, voltage, level, time.Now()))
}

// WriteHeartbeatRTT records one heartbeat round trip.
func (c *Client) WriteHeartbeatRTT(device string, rtt time.Duration) {
	c.writePoint(heartbeatPoint(device, rtt, time.Now()))
}

// WriteConnectionState records a session state transition.
func (c *Client) WriteConnectionState(device, from, to string) {
	c.writePoint(connectionPoint(device, from, to, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.points.Add(1)
	c.writes.WritePoint(p)
}

func batteryPoint(device, address string, voltage, level float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBattery,
		map[string]string{"device": device, "address": address},
		map[string]interface{}{"voltage": voltage, "level": level},
		ts,
	)
}

func heartbeatPoint(device string, rtt time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementHeartbeat,
		map[string]string{"device": device},
		map[string]interface{}{"rtt_ms": float64(rtt) / float64(time.Millisecond)},
		ts,
	)
}

func connectionPoint(device, from, to string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConnection,
		map[string]string{"device": device},
		map[string]interface{}{"from": from, "to": to, "connected": to == "connected"},
		ts,
	)
}
