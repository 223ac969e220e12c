package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/chainindex/indexer/log"
)

// amqpWorkQueue is the production WorkQueue: a durable AMQP queue plus a
// per-message TTL "retry" queue that dead-letters expired messages back
// onto the main queue, emulating a visibility timeout (spec.md §4.F) on
// top of AMQP's native ack/nack model.
type amqpWorkQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	queueName       string
	retryQueueName  string
	visibilityTimeo time.Duration

	deliveries <-chan amqp.Delivery
}

// NewAMQPWorkQueue dials url and declares the durable work queue named
// name, along with its visibility-timeout retry queue.
func NewAMQPWorkQueue(url, name string, visibilityTimeout time.Duration) (WorkQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "queue: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "queue: open channel")
	}
	retryName := name + ".retry"

	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "queue: declare %q", name)
	}
	// The retry queue has no consumers; messages published to it sit out
	// their TTL, then AMQP dead-letters them straight back onto the main
	// queue, visible to the dequeue loop again (spec.md's "becomes
	// visible again after the visibility timeout").
	_, err = ch.QueueDeclare(retryName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name,
		"x-message-ttl":             int64(visibilityTimeout / time.Millisecond),
	})
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "queue: declare %q", retryName)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "queue: qos")
	}
	// Registered once here rather than per Receive call: a fresh Consume
	// on every poll would leak an anonymous consumer registration on the
	// broker each time and risk the broker round-robining deliveries
	// between the stale and new consumers on this channel.
	deliveries, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "queue: consume %q", name)
	}
	return &amqpWorkQueue{
		conn:            conn,
		ch:              ch,
		queueName:       name,
		retryQueueName:  retryName,
		visibilityTimeo: visibilityTimeout,
		deliveries:      deliveries,
	}, nil
}

func (q *amqpWorkQueue) Send(_ context.Context, r Range) error {
	body, err := encodeRange(r)
	if err != nil {
		return err
	}
	return q.ch.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (q *amqpWorkQueue) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	select {
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrEmpty
		}
		r, err := decodeRange(d.Body)
		if err != nil {
			_ = d.Nack(false, false)
			return nil, errors.Wrap(err, "queue: decode message")
		}
		delivery := d
		return &Message{
			Body: r,
			ack:  func() error { return delivery.Ack(false) },
			nak: func(requeue bool) error {
				if requeue {
					return delivery.Nack(false, true)
				}
				// Republish into the retry queue rather than nacking with
				// requeue=false straight back to the main queue, so the
				// message only reappears after visibilityTimeo elapses.
				if err := delivery.Ack(false); err != nil {
					return err
				}
				return q.ch.Publish("", q.retryQueueName, false, false, amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Body:         delivery.Body,
				})
			},
		}, nil
	case <-time.After(timeout):
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *amqpWorkQueue) Close() error {
	log.Debug("closing work queue", "name", q.queueName)
	if err := q.ch.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}
