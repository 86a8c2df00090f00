// Package esp32 manages sessions with ESP32 input/haptic devices that speak
// OSC over UDP.
//
// One Receiver owns the inbound socket that every device reports to. Each
// configured device gets a Device session with its own Sender, and a
// Manager ties them together and drives them from a single frame loop.
//
// # Architecture
//
//	              network goroutine                 frame goroutine (Manager.Tick)
//	┌────────────┐      ┌───────────────┐       ┌──────────────────────────────┐
//	│ UDP :8888  │─────▶│   Receiver    │──────▶│ SendAllEvents (drain queues) │
//	│ (osc pkg)  │      │ decode+enqueue│       └──────────────┬───────────────┘
//	└────────────┘      └───────────────┘                      │ by sender address
//	                                                           ▼
//	                                          ┌──────────────────────────────┐
//	                                          │ Device "d1"   Device "d2" …  │
//	                                          │ state machine, heartbeat     │
//	                                          └──────────────┬───────────────┘
//	                                                         │ Sender (per device)
//	                                                         ▼
//	                                                 UDP → device:9999
//
// # Threading
//
// Decoding runs on the transport's receive goroutine and only enqueues.
// Everything else (draining, state machines, subscriber callbacks) runs on
// the goroutine that calls Manager.Tick. Other goroutines talk to the
// manager through Post and Do, and read state through Snapshot.
//
// # Wire Protocol
//
// Inbound (device → host), sender address is always argument 0:
//
//	/unity/info/            name, firmware, voltage, motors, encoders, buttons
//	/unity/state/button/    button (0 = pressed)
//	/unity/state/encoder/   encoder ticks
//	/unity/state/           button, encoder (legacy combined form)
//	/unity/alive/           heartbeat id
//	/unity/disconnect/
//
// Outbound (host → device):
//
//	/arduino/connect        "ip:port"
//	/arduino/disconnect
//	/arduino/keepalive      id
//	/arduino/motor/rt       motor, speed 0-100
//	/arduino/motor/cmd      motor, event
//	/arduino/motor/stopall
//	/arduino/restart
//	/arduino/sleep
package esp32
