package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttSubscribeTimeout = 5 * time.Second

// sampleMessage is the JSON form of a metric payload. A bare integer payload is
// accepted too.
type sampleMessage struct {
	Value     int       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTSource feeds a Hub from a broker. Readings arrive on <prefix>/power,
// <prefix>/heart_rate and <prefix>/cadence, the ride state on
// <prefix>/ride_state and the rider profile as JSON on <prefix>/profile.
type MQTTSource struct {
	hub    *Hub
	prefix string
	logger *log.Logger
	topics map[string]Metric
}

func NewMQTTSource(hub *Hub, topicPrefix string, logger *log.Logger) *MQTTSource {
	if hub == nil {
		panic("MQTTSource: hub cannot be nil")
	}
	if logger == nil {
		panic("MQTTSource: logger cannot be nil")
	}
	prefix := strings.TrimSuffix(topicPrefix, "/")
	topics := make(map[string]Metric, len(AllMetrics))
	for _, m := range AllMetrics {
		topics[prefix+"/"+m.String()] = m
	}
	return &MQTTSource{hub: hub, prefix: prefix, logger: logger, topics: topics}
}

// Configure installs the handlers that (re)subscribe on every connect and
// flag the hub disconnected when the broker goes away
func (s *MQTTSource) Configure(opts *mqtt.ClientOptions) *mqtt.ClientOptions {
	return opts.
		SetOnConnectHandler(func(c mqtt.Client) {
			if err := s.subscribe(c); err != nil {
				s.logger.Printf("MQTTSource: %v", err)
				return
			}
			s.hub.SetConnected(true)
			s.logger.Printf("MQTTSource: Subscribed to %s/#", s.prefix)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.hub.SetConnected(false)
			s.logger.Printf("MQTTSource: Connection lost: %v", err)
		})
}

func (s *MQTTSource) subscribe(c mqtt.Client) error {
	filters := make(map[string]byte, len(s.topics)+2)
	for topic := range s.topics {
		filters[topic] = 0
	}
	filters[s.prefix+"/ride_state"] = 1
	filters[s.prefix+"/profile"] = 1

	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.handle(msg.Topic(), msg.Payload()); err != nil {
			s.logger.Printf("MQTTSource: Dropping message on %s: %v", msg.Topic(), err)
		}
	})
	if !token.WaitTimeout(mqttSubscribeTimeout) {
		return fmt.Errorf("subscribe to %s timed out", s.prefix)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.prefix, err)
	}
	return nil
}

func (s *MQTTSource) handle(topic string, payload []byte) error {
	if metric, ok := s.topics[topic]; ok {
		msg, err := parseSampleMessage(payload)
		if err != nil {
			return err
		}
		s.hub.Publish(Sample{Metric: metric, Value: msg.Value, Timestamp: msg.Timestamp})
		return nil
	}

	switch topic {
	case s.prefix + "/ride_state":
		state, err := ParseRideState(strings.TrimSpace(string(payload)))
		if err != nil {
			return err
		}
		s.hub.PublishRideState(state)
	case s.prefix + "/profile":
		var p Profile
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding profile: %w", err)
		}
		s.hub.PublishProfile(p)
	default:
		return fmt.Errorf("unexpected topic %q", topic)
	}
	return nil
}

func parseSampleMessage(payload []byte) (sampleMessage, error) {
	text := strings.TrimSpace(string(payload))
	if v, err := strconv.Atoi(text); err == nil {
		return sampleMessage{Value: v}, nil
	}
	var msg sampleMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return sampleMessage{}, fmt.Errorf("decoding sample %q: %w", text, err)
	}
	return msg, nil
}
