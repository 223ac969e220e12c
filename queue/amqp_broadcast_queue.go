package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// amqpBroadcastQueue is the production BroadcastQueue: one main queue
// plus one delay queue per RetryDelays tier, each dead-lettering back to
// the main queue once its fixed TTL elapses.
type amqpBroadcastQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	queueName      string
	delayQueueName []string

	deliveries <-chan amqp.Delivery
}

// NewAMQPBroadcastQueue dials url and declares the main queue plus the
// five fixed-delay retry queues.
func NewAMQPBroadcastQueue(url, name string) (BroadcastQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "queue: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "queue: open channel")
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "queue: declare %q", name)
	}
	delayNames := make([]string, len(RetryDelays))
	for i, d := range RetryDelays {
		dn := fmt.Sprintf("%s.delay.%d", name, i)
		_, err := ch.QueueDeclare(dn, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
			"x-message-ttl":             int64(d / time.Millisecond),
		})
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "queue: declare %q", dn)
		}
		delayNames[i] = dn
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
	return &amqpBroadcastQueue{
		conn:           conn,
		ch:             ch,
		queueName:      name,
		delayQueueName: delayNames,
		deliveries:     deliveries,
	}, nil
}

func (q *amqpBroadcastQueue) Send(_ context.Context, tx Tx) error {
	body, err := encodeTx(tx)
	if err != nil {
		return err
	}
	return q.ch.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (q *amqpBroadcastQueue) Receive(ctx context.Context, timeout time.Duration) (*BroadcastMessage, error) {
	select {
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrEmpty
		}
		tx, err := decodeTx(d.Body)
		if err != nil {
			_ = d.Nack(false, false)
			return nil, errors.Wrap(err, "queue: decode message")
		}
		delivery := d
		return &BroadcastMessage{
			Body: tx,
			ack:  func() error { return delivery.Ack(false) },
			rescheduleF: func(in time.Duration) error {
				if err := delivery.Ack(false); err != nil {
					return err
				}
				tx.Attempt++
				body, err := encodeTx(tx)
				if err != nil {
					return err
				}
				tier := delayTierFor(in)
				return q.ch.Publish("", q.delayQueueName[tier], false, false, amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Body:         body,
				})
			},
		}, nil
	case <-time.After(timeout):
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *amqpBroadcastQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}
