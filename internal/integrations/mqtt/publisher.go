// Package mqtt publishes dashboard snapshots to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"infracontrol/internal/models"
)

const publishTimeout = 5 * time.Second

// Options configures the broker connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
}

type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher sends every snapshot as a retained JSON message so new
// subscribers immediately receive the latest state.
type Publisher struct {
	raw   client
	topic string
}

// Connect dials the broker and keeps retrying in the background after the
// first successful connection.
func Connect(opts Options) (*Publisher, error) {
	if opts.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt broker url is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("infracontrol-%d", time.Now().UnixNano())
	}
	o := paho.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	c := paho.NewClient(o)

	token := c.Connect()
	if !token.WaitTimeout(publishTimeout) {
		c.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.BrokerURL, err)
	}
	return newPublisher(c, opts.Topic), nil
}

func newPublisher(c client, topic string) *Publisher {
	return &Publisher{raw: c, topic: topic}
}

func (p *Publisher) Topic() string { return p.topic }

// Publish encodes the snapshot and waits for the broker acknowledgement.
func (p *Publisher) Publish(snap *models.Snapshot) error {
	if p == nil || snap == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	token := p.raw.Publish(p.topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", p.topic)
	}
	return token.Error()
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.raw.Disconnect(250)
}
