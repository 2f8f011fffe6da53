package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var ErrProviderRejected = errors.New("announcement provider rejected request")

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type ProviderOptions struct {
	WebhookURL   string
	WebhookToken string
	AMQPURL      string
	Queue        string
	Logger       zerolog.Logger
}

// NewProvider picks a provider by kind. A webhook without a URL degrades to
// the log provider. The returned close func is never nil.
func NewProvider(kind string, opts ProviderOptions) (Provider, func() error, error) {
	noClose := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "log":
		return logProvider{logger: opts.Logger}, noClose, nil
	case "noop":
		return noopProvider{}, noClose, nil
	case "webhook":
		if opts.WebhookURL == "" {
			opts.Logger.Warn().Msg("webhook announcer without url, falling back to log")
			return logProvider{logger: opts.Logger}, noClose, nil
		}
		return NewWebhookProvider(opts.WebhookURL, opts.WebhookToken), noClose, nil
	case "amqp":
		provider, err := DialAMQP(opts.AMQPURL, opts.Queue)
		if err != nil {
			return nil, noClose, err
		}
		return provider, provider.Close, nil
	}
	return nil, noClose, fmt.Errorf("unknown announce provider %q", kind)
}

type logProvider struct {
	logger zerolog.Logger
}

func (p logProvider) Send(ctx context.Context, msg Message) error {
	p.logger.Info().
		Str("queue_code", msg.QueueCode).
		Str("counter", msg.Counter).
		Bool("recall", msg.Recall).
		Msg(msg.Text)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, msg Message) error {
	return nil
}

type WebhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookProvider(url, token string) *WebhookProvider {
	return &WebhookProvider{url: url, token: token, client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *WebhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	}
	return nil
}

// AMQPProvider publishes each message to a durable queue on the default
// exchange. A channel is opened per message.
type AMQPProvider struct {
	conn  *amqp.Connection
	queue string
}

func DialAMQP(url, queue string) (*AMQPProvider, error) {
	if url == "" {
		return nil, errors.New("amqp announcer requires AMQP_URL")
	}
	if queue == "" {
		queue = "queue.announcements"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	return &AMQPProvider{conn: conn, queue: queue}, nil
}

func (p *AMQPProvider) Send(ctx context.Context, msg Message) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.CreatedAt,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func (p *AMQPProvider) Close() error {
	return p.conn.Close()
}
