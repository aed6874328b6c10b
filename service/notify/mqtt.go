package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQoS            = 1
)

type mqttPayload struct {
	Label      string               `json:"label"`
	Confidence float64              `json:"confidence"`
	GPS        string               `json:"gps"`
	Caption    string               `json:"caption"`
	Boxes      []model.DetectionBox `json:"boxes"`
	Timestamp  string               `json:"timestamp"`
	Image      string               `json:"image,omitempty"`
}

// MQTT publishes alerts as JSON to <topic>/<label>.
type MQTT struct {
	broker string
	topic  string
	client mqtt.Client
}

func NewMQTT(broker, topic, clientID string) (*MQTT, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		lgr.Logger.Info("mqtt connection established", slog.String("broker", broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		lgr.Logger.Warn("mqtt connection lost, will auto-reconnect",
			slog.String("broker", broker),
			slog.Any("error", err),
		)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return &MQTT{
		broker: broker,
		topic:  strings.TrimRight(topic, "/"),
		client: client,
	}, nil
}

func (m *MQTT) Name() string {
	return "mqtt"
}

func (m *MQTT) Notify(_ context.Context, alert model.Alert) error {
	if !m.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}

	payload := mqttPayload{
		Label:      alert.Label,
		Confidence: alert.Confidence,
		GPS:        alert.GPS,
		Caption:    alert.Caption,
		Boxes:      alert.Boxes,
		Timestamp:  alert.Timestamp.Format(time.RFC3339),
	}
	if len(alert.Image) > 0 {
		payload.Image = base64.StdEncoding.EncodeToString(alert.Image)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := m.client.Publish(fmt.Sprintf("%s/%s", m.topic, alert.Label), mqttQoS, false, data)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
