package alert

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttPublishTimeout = 2 * time.Second

// MQTTSink publishes each command as JSON on <prefix>/alerts so head units and
// watches on the same broker can show it
type MQTTSink struct {
	client mqtt.Client
	topic  string
	logger *log.Logger
}

func NewMQTTSink(client mqtt.Client, topicPrefix string, logger *log.Logger) *MQTTSink {
	if client == nil {
		panic("MQTTSink: client cannot be nil")
	}
	if logger == nil {
		panic("MQTTSink: logger cannot be nil")
	}
	return &MQTTSink{client: client, topic: topicPrefix + "/alerts", logger: logger}
}

func (s *MQTTSink) Send(cmd Command) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		s.logger.Printf("MQTTSink: marshal %s: %v", cmd.ID, err)
		return
	}
	token := s.client.Publish(s.topic, 1, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		s.logger.Printf("MQTTSink: publish %s timed out", cmd.ID)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Printf("MQTTSink: publish %s: %v", cmd.ID, err)
	}
}
