package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn is the part of *amqp.Connection the publisher relies on.
// This allows for easy faking in tests
type Conn interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Channel is a confirm-mode AMQP channel
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	// Publish sends msg to queue through the default exchange and blocks
	// until the broker acks or nacks it.
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a broker connection
type Dialer func(url string, config amqp.Config) (Conn, error)

// QueueDescriptor describes the single queue messages are published to
type QueueDescriptor struct {
	Name       string
	Durable    bool
	AutoDelete bool
}

// NewQueueDescriptor returns a durable, non auto-deleted queue
func NewQueueDescriptor(name string) QueueDescriptor {
	return QueueDescriptor{
		Name:       name,
		Durable:    true,
		AutoDelete: false,
	}
}

// Declare is idempotent on the broker. A queue that already exists with other
// attributes makes the broker close the channel with PRECONDITION_FAILED.
func (q QueueDescriptor) Declare(ch Channel) error {
	_, err := ch.QueueDeclare(
		q.Name,       // name
		q.Durable,    // durable
		q.AutoDelete, // auto-deleted
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
	}
	return nil
}

// connectionConfig identifies this process in the management UI
func connectionConfig(connectionName string) amqp.Config {
	props := amqp.Table{
		"product": "board-publisher",
	}
	if connectionName != "" {
		props["connection_name"] = connectionName
	}
	return amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: props,
	}
}

// DialAMQP dials a real broker. Channels it opens are in confirm mode.
func DialAMQP(url string, config amqp.Config) (Conn, error) {
	conn, err := amqp.DialConfig(url, config)
	if err != nil {
		return nil, err
	}
	return &amqpConn{conn: conn}, nil
}

type amqpConn struct {
	conn *amqp.Connection
}

func (c *amqpConn) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConn) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConn) Close() error {
	return c.conn.Close()
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return c.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (c *amqpChannel) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	confirm, err := c.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}
