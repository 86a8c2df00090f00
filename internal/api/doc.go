// Package api implements the HTTP REST API and WebSocket server.
//
// This package provides:
//   - Read endpoints over the manager's last snapshot
//   - Command endpoints that run on the manager's frame goroutine
//   - The device directory endpoints devices report to
//   - A WebSocket hub relaying device events as they happen
//   - Runtime log level control
//   - Middleware: request ID, access log, panic recovery, CORS, body limit
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/log-level
//	PUT  /api/v1/log-level          {"level": "debug"}
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{name}
//	POST /api/v1/devices/{name}/{connect|disconnect|stop|reboot|sleep}
//	POST /api/v1/devices/{name}/motor    {"motor": 0, "speed": 0.5}
//	POST /api/v1/devices/{name}/haptic   {"motor": 0, "event": 2}
//	POST /api/v1/reload
//	GET  /api/v1/audit?device=&source=&status=&limit=&offset=
//	GET  /api/v1/registry/update?name=&ip=&wifi=&battery=&motor=&firmware=
//	GET  /api/v1/registry/devices.json
//	GET  /api/v1/ws
//
// # Graceful Degradation
//
// The server runs without MQTT or a directory. Device reads and commands
// only need the manager.
package api
