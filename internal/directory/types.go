package directory

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDeviceName is the name firmware reports before it is configured.
const DefaultDeviceName = "controller0"

// Entry is one registered device. Measurement fields are kept as the
// strings the device reported.
type Entry struct {
	Name       string    `json:"name"`
	IP         string    `json:"ip"`
	WiFi       string    `json:"wifi"`
	Battery    string    `json:"battery"`
	Motor      string    `json:"motor"`
	Firmware   string    `json:"firmware"`
	LastUpdate time.Time `json:"lastupdate"`
}

// Validate checks the fields every entry needs.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.IP) == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidEntry)
	}
	if e.Name == DefaultDeviceName {
		return ErrDefaultName
	}
	return nil
}

// Document is the devices.json envelope.
type Document struct {
	Data []Entry `json:"data"`
}
