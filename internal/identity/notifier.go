package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tenantcore/internal/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	NotificationInvite        = "invite"
	NotificationPasswordReset = "password_reset"
)

// Notification asks the delivery system to send a setup link to Email.
type Notification struct {
	Kind       string         `json:"kind"`
	IdentityID uuid.UUID      `json:"identity_id"`
	Email      string         `json:"email"`
	Link       string         `json:"link"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Notifier hands notifications to whatever delivers them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. Used in dev when no broker is configured.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.log.Info("identity notification",
		logger.String("kind", msg.Kind),
		logger.String("identity_id", msg.IdentityID.String()),
		logger.String("email", msg.Email),
		logger.String("link", msg.Link))
	return nil
}

// AMQPNotifier publishes notifications to a topic exchange, routed as
// identity.<kind>.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      logger.Logger
}

func NewAMQPNotifier(url, exchange string, log logger.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	routingKey := "identity." + msg.Kind
	err = n.channel.PublishWithContext(ctx,
		n.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Headers: amqp.Table{
				"kind":        msg.Kind,
				"identity_id": msg.IdentityID.String(),
			},
			Body: body,
		},
	)
	if err != nil {
		n.log.Error("failed to publish notification",
			logger.String("kind", msg.Kind),
			logger.String("routing_key", routingKey),
			logger.Error(err))
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	if err := n.channel.Close(); err != nil {
		_ = n.conn.Close()
		return err
	}
	return n.conn.Close()
}
