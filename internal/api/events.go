package api

import (
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
)

// WebSocket event channels.
const (
	ChannelDeviceAdded        = "device.added"
	ChannelDeviceRemoved      = "device.removed"
	ChannelDeviceConnected    = "device.connected"
	ChannelDeviceDisconnected = "device.disconnected"
	ChannelDeviceState        = "device.state_changed"
	ChannelDeviceInput        = "device.input"
	ChannelDeviceInfo         = "device.info"
	ChannelDeviceHeartbeat    = "device.heartbeat"
)

// DeviceEvent is the payload of device.added, device.removed,
// device.connected and device.disconnected.
type DeviceEvent struct {
	Device  string `json:"device"`
	Address string `json:"address"`
}

// StateChangedEvent is the payload of device.state_changed.
type StateChangedEvent struct {
	Device string                `json:"device"`
	From   esp32.ConnectionState `json:"from"`
	To     esp32.ConnectionState `json:"to"`
}

// InputEvent is the payload of device.input.
type InputEvent struct {
	Device string `json:"device"`
	esp32.InputState
}

// InfoEvent is the payload of device.info.
type InfoEvent struct {
	Device string           `json:"device"`
	Info   esp32.DeviceInfo `json:"info"`
}

// HeartbeatEvent is the payload of device.heartbeat.
type HeartbeatEvent struct {
	Device string  `json:"device"`
	RTTMs  float64 `json:"rtt_ms"`
}

// relayDeviceEvents forwards manager events to the hub. Callbacks run on
// the frame goroutine; Broadcast never blocks on slow clients.
func (s *Server) relayDeviceEvents() []*esp32.Subscription {
	m, hub := s.manager, s.hub
	lifecycle := func(channel string) func(*esp32.Device) {
		return func(d *esp32.Device) {
			hub.Broadcast(channel, d.Name(), DeviceEvent{Device: d.Name(), Address: d.Address()})
		}
	}

	return []*esp32.Subscription{
		m.OnDeviceAdded(lifecycle(ChannelDeviceAdded)),
		m.OnDeviceRemoved(lifecycle(ChannelDeviceRemoved)),
		m.OnDeviceConnected(lifecycle(ChannelDeviceConnected)),
		m.OnDeviceDisconnected(lifecycle(ChannelDeviceDisconnected)),
		m.OnDeviceStateChanged(func(d *esp32.Device, c esp32.StateChange) {
			hub.Broadcast(ChannelDeviceState, d.Name(), StateChangedEvent{Device: d.Name(), From: c.From, To: c.To})
		}),
		m.OnDeviceInput(func(d *esp32.Device, in esp32.InputState) {
			hub.Broadcast(ChannelDeviceInput, d.Name(), InputEvent{Device: d.Name(), InputState: in})
		}),
		m.OnDeviceInfo(func(d *esp32.Device, info esp32.DeviceInfo) {
			hub.Broadcast(ChannelDeviceInfo, d.Name(), InfoEvent{Device: d.Name(), Info: info})
		}),
		m.OnDeviceHeartbeat(func(d *esp32.Device, rtt time.Duration) {
			hub.Broadcast(ChannelDeviceHeartbeat, d.Name(), HeartbeatEvent{
				Device: d.Name(),
				RTTMs:  float64(rtt) / float64(time.Millisecond),
			})
		}),
	}
}
