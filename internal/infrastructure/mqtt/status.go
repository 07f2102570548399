package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/config"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonUnexpected = "unexpected_disconnect"
	reasonGraceful   = "graceful_shutdown"
)

// statusPayload is the retained document on Topics.Status. A client
// watching it can tell a crashed device server (the will, reason
// unexpected_disconnect) from a stopped one (reason graceful_shutdown),
// even while the device-info announcement is still retained.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// configureLWT registers the retained offline will at QoS 1.
func configureLWT(opts *pahomqtt.ClientOptions, cfg config.MQTTConfig) {
	topic := Topics{Namespace: cfg.Namespace}.Status(cfg.Broker.ClientID)
	opts.SetWill(topic, buildStatusPayload(statusOffline, cfg.Broker.ClientID, reasonUnexpected), 1, true)
}

func buildStatusPayload(status, clientID, reason string) string {
	b, err := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Sprintf(`{"status":%q}`, status)
	}
	return string(b)
}
