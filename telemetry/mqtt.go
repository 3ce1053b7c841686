// Package telemetry publishes locator output to an MQTT broker as JSON.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"uwb-engine/calib"
	"uwb-engine/fusion"
)

const (
	publishTimeout = 2 * time.Second
	disconnectMs   = 250
)

type Config struct {
	Broker   string
	ClientID string
	// Topic is the base; positions go to Topic+"/position" and
	// calibration results to Topic+"/calibration".
	Topic string
}

type Publisher struct {
	client mqtt.Client
	topic  string
}

// Connect dials the broker and waits for the session.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "uwb-engine"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	log.Printf("telemetry: connected to MQTT broker at %s", cfg.Broker)
	return NewPublisher(client, cfg.Topic), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

type positionMsg struct {
	Tag int `json:"tag"`
	fusion.Result
}

type calibrationMsg struct {
	TimestampMs int64 `json:"ts"`
	calib.Result
}

func (p *Publisher) PositionTopic() string    { return p.topic + "/position" }
func (p *Publisher) CalibrationTopic() string { return p.topic + "/calibration" }

// PublishPosition sends res without waiting for the broker acknowledgement.
func (p *Publisher) PublishPosition(tag int, res fusion.Result) error {
	payload, err := json.Marshal(positionMsg{Tag: tag, Result: res})
	if err != nil {
		return err
	}
	p.client.Publish(p.PositionTopic(), 0, false, payload)
	return nil
}

// PublishCalibration sends a retained result and waits for delivery.
func (p *Publisher) PublishCalibration(ts int64, res calib.Result) error {
	payload, err := json.Marshal(calibrationMsg{TimestampMs: ts, Result: res})
	if err != nil {
		return err
	}
	token := p.client.Publish(p.CalibrationTopic(), 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", p.CalibrationTopic())
	}
	return token.Error()
}

func (p *Publisher) Close() {
	p.client.Disconnect(disconnectMs)
}
