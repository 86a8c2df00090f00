// Package config loads config.yaml, applies ESP32OSC_* environment
// overrides and validates the result, reporting every problem at once.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	manager := newManager(cfg.ESP32)
//
// Secrets (MQTT credentials, InfluxDB token) belong in the environment,
// not the file.
package config
