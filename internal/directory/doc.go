// Package directory keeps the table of devices that have announced
// themselves, either through the HTTP registration endpoint or through
// info messages seen by a live session.
//
// Devices booting with the factory name "controller0" are not stored.
// The List output, wrapped in Document, is the same {"data":[...]} format
// the esp32 device list loader consumes, so one service can act as the
// device list source for another.
package directory
