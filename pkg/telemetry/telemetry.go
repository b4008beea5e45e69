// Package telemetry publishes device status over MQTT for observability.
// Publishing is a side effect only; device control never depends on it.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"obsctl/pkg/drivers/focuslynx"
	"obsctl/pkg/drivers/mount"
)

type Config struct {
	Host      string
	Username  string
	Password  string
	TopicRoot string
}

// newMQTTClient initializes and connects a new MQTT client.
func newMQTTClient(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("obsctl")
	opts.AddBroker(cfg.Host)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// focuserPayload is the focuser status message published under the
// "focuser/status" topic.
type focuserPayload struct {
	Position    int     `json:"pos"`
	Target      int     `json:"target"`
	Moving      bool    `json:"moving"`
	Temperature float64 `json:"temp"`
	Time        string  `json:"time"`
}

// mountPayload is the mount status message published under the
// "mount/status" topic.
type mountPayload struct {
	Slewing bool    `json:"slewing"`
	HA      float64 `json:"ha"`
	Dec     float64 `json:"dec"`
	Time    string  `json:"time"`
}

// Publisher pushes device status snapshots to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	root   string
	logger log.FieldLogger
}

func NewPublisher(cfg Config, logger log.FieldLogger) (*Publisher, error) {
	client, err := newMQTTClient(cfg)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		client: client,
		root:   cfg.TopicRoot,
		logger: logger.WithField("component", "telemetry"),
	}, nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(100)
}

// PublishFocuser publishes one focuser status snapshot.
func (p *Publisher) PublishFocuser(st focuslynx.Status) error {
	payload := focuserPayload{
		Position:    st.Position,
		Target:      st.Target,
		Moving:      st.Moving,
		Temperature: st.Temperature,
		Time:        time.Now().Format(time.RFC3339),
	}
	return p.publish("focuser/status", payload)
}

// PublishMount publishes the mount slewing flag and pointing.
func (p *Publisher) PublishMount(slewing bool, coords mount.Coordinates) error {
	payload := mountPayload{
		Slewing: slewing,
		HA:      coords.HA,
		Dec:     coords.Dec,
		Time:    time.Now().Format(time.RFC3339),
	}
	return p.publish("mount/status", payload)
}

func (p *Publisher) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	full := p.root + "/" + topic
	p.logger.Debugf("Publishing to %s: %s", full, data)

	if token := p.client.Publish(full, 0, false, data); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %v", full, token.Error())
	}
	return nil
}
