// Package logging builds the device server's slog logger from config.yaml.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path
//
// Every entry carries service and version; main adds the device's
// topic_root and each subsystem its component. At debug level every
// inbound control request and outbound notification is logged, shortened
// to 300 characters.
//
//	logger := logging.New(cfg.Logging, version).Device(cfg.Device.TopicRoot)
//	srv, err := server.New(p, root, server.WithLogger(logger.Component("server")))
package logging
