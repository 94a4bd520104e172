package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var ErrMalformedMail = errors.New("malformed mail message")

// MailConsumer drains the mail queue filled by QueueEmailSender into a real
// transport. Malformed messages are dropped, failed deliveries requeued.
type MailConsumer struct {
	Sender       EmailSender
	Logger       logrus.FieldLogger
	RetryBackoff time.Duration
}

func (c *MailConsumer) Run(ctx context.Context, url string, queueName string) error {
	const op = "service.MailConsumer.Run"

	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer ch.Close()

	q, err := DeclareMailQueue(ch, queueName)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", op)
			}
			c.process(ctx, d)
		}
	}
}

func (c *MailConsumer) process(ctx context.Context, d amqp.Delivery) {
	err := c.Handle(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrMalformedMail):
		c.logger().WithError(err).Error("dropping mail message")
		_ = d.Nack(false, false)
	default:
		c.logger().WithError(err).Warn("mail delivery failed, requeueing")
		select {
		case <-ctx.Done():
		case <-time.After(c.backoff()):
		}
		_ = d.Nack(false, true)
	}
}

// Handle decodes one queued message and delivers it.
func (c *MailConsumer) Handle(ctx context.Context, body []byte) error {
	var msg EmailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMail, err)
	}
	if strings.TrimSpace(msg.To) == "" || msg.Subject == "" {
		return fmt.Errorf("%w: missing recipient or subject", ErrMalformedMail)
	}
	if err := c.Sender.Send(ctx, msg); err != nil {
		return err
	}
	c.logger().WithField("to", msg.To).Info("mail delivered")
	return nil
}

func (c *MailConsumer) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

func (c *MailConsumer) backoff() time.Duration {
	if c.RetryBackoff > 0 {
		return c.RetryBackoff
	}
	return 5 * time.Second
}
