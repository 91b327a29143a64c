// Package service publishes booking events to RabbitMQ.  Errors are logged
// and returned so callers can ignore them without interrupting the request
// flow: a committed payment is never undone because the broker is down.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	q "github.com/iliyamo/cinema-ticket-checkout/internal/queue"
)

// Publisher sends events to durable queues through the default exchange.
// A connection is dialed per publish; event volume is one message per
// payment callback.
type Publisher struct {
	url string
	log logrus.FieldLogger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{url: url, log: log.WithField("component", "rabbitmq")}
}

// PublishBookingPaid publishes to booking.paid.
func (p *Publisher) PublishBookingPaid(ctx context.Context, ev q.BookingPaidEvent) error {
	return p.publish(ctx, q.BookingPaidQueue, ev)
}

// PublishBookingFailed publishes to booking.failed.
func (p *Publisher) PublishBookingFailed(ctx context.Context, ev q.BookingFailedEvent) error {
	return p.publish(ctx, q.BookingFailedQueue, ev)
}

// PublishRefundRequired publishes to booking.refund_required.
func (p *Publisher) PublishRefundRequired(ctx context.Context, ev q.RefundRequiredEvent) error {
	return p.publish(ctx, q.RefundRequiredQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	log := p.log.WithField("queue", queue)

	body, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("rabbitmq: marshal event failed")
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.WithError(err).Error("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.WithError(err).Error("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		log.WithError(err).Error("rabbitmq: queue declare failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         queue,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		log.WithError(err).Error("rabbitmq: publish failed")
		return err
	}
	log.WithField("message_id", pub.MessageId).Debug("rabbitmq: published")
	return nil
}
