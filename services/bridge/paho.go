// bridge/paho.go
package bridge

import (
	"context"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"accelcode-go/x/strx"
)

// pahoTransport drives one MQTT client session. Reconnection lives in the
// bridge supervisor, so the client's own auto-reconnect stays off.
type pahoTransport struct {
	cfg Config
	cli mqtt.Client
}

func newPahoTransport(cfg Config) Transport {
	return &pahoTransport{cfg: cfg}
}

func (p *pahoTransport) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(strx.Coalesce(p.cfg.ClientID, "accel-hald")).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(30 * time.Second)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	p.cli = mqtt.NewClient(opts)

	tok := p.cli.Connect()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		p.cli.Disconnect(0)
		return ctx.Err()
	}
}

func (p *pahoTransport) Publish(topic string, payload []byte, retained bool) error {
	if p.cli == nil || !p.cli.IsConnected() {
		return errors.New("mqtt: not connected")
	}
	tok := p.cli.Publish(topic, 1, retained, payload)
	if !tok.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: publish timeout")
	}
	return tok.Error()
}

func (p *pahoTransport) SubscribeControl(filter string, h func(topic string, payload []byte)) error {
	if p.cli == nil || !p.cli.IsConnected() {
		return errors.New("mqtt: not connected")
	}
	tok := p.cli.Subscribe(filter, 1, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: subscribe timeout")
	}
	return tok.Error()
}

func (p *pahoTransport) Close() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
