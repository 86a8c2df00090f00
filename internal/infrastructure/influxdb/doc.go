// Package influxdb records ESP32 device telemetry in InfluxDB v2.
//
// Three measurements are written, each tagged by device name and by the
// site id when one is configured:
//   - esp32_battery: voltage and normalised level from info messages
//   - esp32_heartbeat: round-trip time of each answered heartbeat
//   - esp32_connection: session state transitions
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteHeartbeatRTT("box-01", 12*time.Millisecond)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are reported through
// SetOnError and counted in Stats.
package influxdb
