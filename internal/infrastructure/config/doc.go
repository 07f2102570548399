// Package config handles loading and validating device server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DEVSERVER_* environment variables
//   - Validation through go-playground/validator struct tags plus cross-field checks
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.TopicRoot)
package config
