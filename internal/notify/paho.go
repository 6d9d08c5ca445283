package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rbright/vcd/internal/vcerr"
)

// pahoTransport publishes with QoS 1 through an eclipse paho client.
type pahoTransport struct {
	client  paho.Client
	timeout time.Duration
}

// Connect dials the broker and returns a started Hub.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Hub, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	hub := NewHub(cfg, nil, logger)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		hub.logger.Warn("mqtt connection lost", "broker", cfg.BrokerURL, "error", err.Error())
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	wait := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, vcerr.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, err)
	}

	hub.transport = &pahoTransport{client: client, timeout: hub.cfg.PublishTimeout}
	if err := hub.Start(); err != nil {
		client.Disconnect(100)
		return nil, err
	}
	hub.logger.Info("mqtt connected", "broker", cfg.BrokerURL, "client_id", cfg.ClientID)
	return hub, nil
}

func (p *pahoTransport) Publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return vcerr.ErrTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%v: %w", err, vcerr.ErrOperationFailed)
	}
	return nil
}

func (p *pahoTransport) Subscribe(topic string, handler func(string, []byte)) error {
	token := p.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(p.timeout) {
		return vcerr.ErrTimeout
	}
	return token.Error()
}

func (p *pahoTransport) Close() {
	p.client.Disconnect(100)
}
