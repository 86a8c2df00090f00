// Package logging builds the slog-based logger shared by every component.
//
// Entries carry service and version; Component adds a component field
// (esp32, api, bridge, mqtt, audit). The level is shared by all derived
// loggers and can be changed while running through SetLevel, which the
// API exposes at /api/v1/log-level.
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr, discard
//
// Broker passwords and the InfluxDB token must never be logged.
package logging
