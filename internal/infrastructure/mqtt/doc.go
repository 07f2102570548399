// Package mqtt is the device server's connection to its MQTT broker.
//
// The transport/mqttbus package maps device channels onto topics of this
// client and the broadcast package publishes the retained device-info
// announcement through it. The client itself owns only the connection:
// reconnect with backoff, re-subscription after a reconnect, and a
// retained online/offline status backed by a will message.
//
// Message handlers run on paho's single router goroutine; see
// MessageHandler.
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
