package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Queues lists every queue the consumer drains.
var Queues = []string{BookingPaidQueue, BookingFailedQueue, RefundRequiredQueue}

// Consumer appends one line per booking event to a log file.
type Consumer struct {
	URL string
	Dir string // directory of booking.log, "logs" when empty
	Log logrus.FieldLogger
}

// Run connects to RabbitMQ, declares the booking queues and appends every
// message to booking.log.  It reconnects with backoff until ctx is
// cancelled.  Messages that cannot be handled are rejected without requeue
// so the consumer never spins on them.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.logger()
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.WithError(err).Warnf("booking-consumer: failed to dial broker; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("booking-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger().WithError(err).Warn("booking-consumer: set QoS failed")
	}

	deliveries := make(chan amqp.Delivery)
	done := make(chan struct{})
	defer close(done)
	closed := make(chan string, len(Queues))
	for _, name := range Queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		go func(name string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case deliveries <- d:
				case <-done:
					return
				}
			}
			closed <- name
		}(name, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case name := <-closed:
			return fmt.Errorf("deliveries channel of %s closed", name)
		case d := <-deliveries:
			if err := c.handle(d.RoutingKey, d.Body); err != nil {
				c.logger().WithError(err).WithField("queue", d.RoutingKey).Error("booking-consumer: handle message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(queue string, body []byte) error {
	line, err := FormatLine(queue, body)
	if err != nil {
		return err
	}
	dir := c.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// ErrUnknownQueue is returned by FormatLine for a queue it has no layout for.
var ErrUnknownQueue = errors.New("unknown queue")

// FormatLine renders the event in body, published to queue, as one
// newline-terminated log line.
func FormatLine(queue string, body []byte) (string, error) {
	switch queue {
	case BookingPaidQueue:
		var ev BookingPaidEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking paid | invoice_id=%s | user_id=%d | showtime_id=%d | total=%d | points=%d | tickets=%s | seats=%s | dropped=%s\n",
			ev.PaidAt, ev.InvoiceID, ev.UserID, ev.ShowtimeID, ev.Total, ev.PointsAwarded,
			list(ev.TicketIDs), uintList(ev.SeatIDs), uintList(ev.DroppedSeatIDs)), nil
	case BookingFailedQueue:
		var ev BookingFailedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking failed | invoice_id=%s | user_id=%d | response_code=%s | signature_valid=%t | released=%d\n",
			ev.FailedAt, ev.InvoiceID, ev.UserID, ev.ResponseCode, ev.SignatureValid, ev.ReleasedTickets), nil
	case RefundRequiredQueue:
		var ev RefundRequiredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Refund required | invoice_id=%s | user_id=%d | gateway_txn_no=%s | captured=%d | refund=%d | reason=%q | dropped=%s\n",
			ev.RaisedAt, ev.InvoiceID, ev.UserID, ev.GatewayTxnNo, ev.CapturedAmount, ev.RefundAmount,
			ev.Reason, uintList(ev.DroppedSeatIDs)), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
}

func list(s []string) string { return "[" + strings.Join(s, ",") + "]" }

func uintList(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return list(parts)
}

func (c *Consumer) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
