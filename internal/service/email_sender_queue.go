package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueEmailSender hands messages to RabbitMQ; cmd/mailer delivers them.
// A message counts as sent once the broker accepted the publish.
type QueueEmailSender struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

func NewQueueEmailSender(url string, queueName string) (*QueueEmailSender, error) {
	const op = "service.NewQueueEmailSender"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q, err := DeclareMailQueue(ch, queueName)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &QueueEmailSender{conn: conn, channel: ch, queue: q}, nil
}

// DeclareMailQueue declares the durable queue shared by publisher and consumer.
func DeclareMailQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(name, true, false, false, false, nil)
}

func (s *QueueEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	const op = "service.QueueEmailSender.Send"

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// amqp channels are not safe for concurrent publishes.
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.channel.PublishWithContext(
		ctx,
		"",
		s.queue.Name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *QueueEmailSender) Close() {
	_ = s.channel.Close()
	_ = s.conn.Close()
}
