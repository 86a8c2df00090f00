// Package bridge connects the esp32 session manager to MQTT.
//
// The bridge is the only part of the service that talks to the broker on
// behalf of devices. It mirrors session state outward and turns inbound
// command messages into Device.Execute calls on the manager's frame
// goroutine.
//
// # Topics
//
//	esp32osc/state/{device}             retained DeviceSnapshot, QoS 1
//	esp32osc/event/{device}/input       one message per accepted input sample
//	esp32osc/event/{device}/lifecycle   added, removed, connected, disconnected
//	esp32osc/command/{device}           inbound commands (subscribed)
//	esp32osc/ack/{device}               command acknowledgements
//	esp32osc/health                     retained health report
//
// # Side Effects
//
// Besides MQTT, accepted info messages are written to the device directory
// and, when configured, to the telemetry store. Those writes run on a
// single worker goroutine so the frame loop never waits on disk or network.
//
// # Usage
//
//	b, err := bridge.New(bridge.Options{
//	    Manager:   manager,
//	    MQTT:      mqttClient,
//	    Telemetry: influxClient,
//	    Directory: directoryRepo,
//	    Logger:    log.Component("bridge"),
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package bridge
