package esp32

import (
	"os"
	"regexp"
)

// AutoConnectRule connects the named device on hosts whose name matches
// Hostname (a regular expression; empty matches any host).
type AutoConnectRule struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	Device   string `yaml:"device" json:"device"`
}

type compiledRule struct {
	re     *regexp.Regexp
	device string
}

// AutoConnect enables auto-reconnect and connects devices that match a
// rule for the current host as soon as the manager adds them.
type AutoConnect struct {
	hostname string
	rules    []compiledRule
	logger   Logger
}

// NewAutoConnect compiles rules for hostname. An empty hostname means
// os.Hostname(). Rules with invalid expressions are logged and skipped.
func NewAutoConnect(rules []AutoConnectRule, hostname string, logger Logger) *AutoConnect {
	if logger == nil {
		logger = noopLogger{}
	}
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			logger.Warn("can't read host name for auto-connect", "error", err)
		}
		hostname = h
	}

	a := &AutoConnect{hostname: hostname, logger: logger}
	for _, r := range rules {
		cr := compiledRule{device: r.Device}
		if r.Hostname != "" {
			re, err := regexp.Compile(r.Hostname)
			if err != nil {
				logger.Warn("invalid auto-connect hostname pattern",
					"pattern", r.Hostname,
					"device", r.Device,
					"error", err,
				)
				continue
			}
			cr.re = re
		}
		a.rules = append(a.rules, cr)
	}

	logger.Info("esp32 auto-connect configured", "hostname", hostname, "rules", len(a.rules))
	return a
}

// Hostname returns the host name rules are matched against.
func (a *AutoConnect) Hostname() string { return a.hostname }

// ShouldAutoConnect reports whether a rule selects the device on this host.
func (a *AutoConnect) ShouldAutoConnect(device string) bool {
	for _, r := range a.rules {
		if r.device != device {
			continue
		}
		if r.re == nil || r.re.MatchString(a.hostname) {
			return true
		}
	}
	return false
}

// Attach subscribes to the manager's device-added events.
func (a *AutoConnect) Attach(m *Manager) *Subscription {
	return m.OnDeviceAdded(a.apply)
}

func (a *AutoConnect) apply(d *Device) {
	if !a.ShouldAutoConnect(d.Name()) {
		return
	}
	a.logger.Info("auto-connecting esp32 device", "device", d.Name(), "hostname", a.hostname)
	d.SetAutoReconnect(true)
	if err := d.Connect(); err != nil {
		a.logger.Warn("auto-connect failed", "device", d.Name(), "error", err)
	}
}
