// Package mqtt provides the MQTT client used to expose ESP32 devices on a
// message bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on esp32osc/status
//
// # Architecture
//
//	ESP32 devices ↔ OSC/UDP ↔ esp32osc core ↔ MQTT broker ↔ consumers
//
// Device snapshots are retained so that a late subscriber sees the current
// connection state immediately. Commands arrive on esp32osc/command/{device}
// and are acknowledged on esp32osc/ack/{device}.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not local
//   - Supply credentials via ESP32OSC_MQTT_USERNAME / ESP32OSC_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.DeviceState("box-01"), snapshot, true)
package mqtt
