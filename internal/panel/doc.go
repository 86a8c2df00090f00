// Package panel serves the embedded device page.
//
// The page lists live sessions from /api/v1/devices, refreshed over the
// WebSocket event stream, and the self-registered device directory from
// /api/v1/registry/devices.json.
package panel
