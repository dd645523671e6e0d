package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/WailSalutem-Health-Care/board-publisher/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/WailSalutem-Health-Care/board-publisher/internal/messaging"

// Options configures a Publisher
type Options struct {
	URL   string
	Queue string
	// ConnectionName is shown as connection_name in the RabbitMQ management UI.
	ConnectionName string
	Teardown       TeardownScope

	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	// Optional
	Dialer  Dialer
	Logger  *log.Logger
	Metrics *telemetry.Metrics
}

// Publisher publishes JSON messages to one durable queue over a single
// connection and a single confirm-mode channel. Unexpected connection loss is
// followed by automatic reconnects with exponential backoff. A failed publish
// tears the session down and it stays closed until Reconnect is called.
type Publisher struct {
	opts    Options
	queue   QueueDescriptor
	dial    Dialer
	logger  *log.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	state   State
	conn    Conn
	channel Channel
	// settled is closed whenever the state leaves StateConnecting
	settled chan struct{}
	// generation changes on every transition into StateConnecting and on Close
	generation   uint64
	cancelRedial context.CancelFunc
}

// NewPublisher returns a disconnected Publisher. Publish fails with
// ErrNotConnected until Reconnect succeeds.
func NewPublisher(opts Options) *Publisher {
	if opts.Dialer == nil {
		opts.Dialer = DialAMQP
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Teardown == "" {
		opts.Teardown = TeardownConnection
	}
	if opts.ReconnectInitialInterval <= 0 {
		opts.ReconnectInitialInterval = 500 * time.Millisecond
	}
	if opts.ReconnectMaxInterval <= 0 {
		opts.ReconnectMaxInterval = 30 * time.Second
	}

	settled := make(chan struct{})
	close(settled)

	return &Publisher{
		opts:    opts,
		queue:   NewQueueDescriptor(opts.Queue),
		dial:    opts.Dialer,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer(tracerName),
		state:   StateDisconnected,
		settled: settled,
	}
}

// Connect creates a Publisher and connects it to the broker
func Connect(ctx context.Context, opts Options) (*Publisher, error) {
	p := NewPublisher(opts)
	if err := p.Reconnect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// State returns the current session state
func (p *Publisher) State() State {
	if p == nil {
		return StateDisconnected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Queue returns the queue messages are published to
func (p *Publisher) Queue() QueueDescriptor {
	return p.queue
}

// Reconnect (re)establishes the session and declares the queue. It is a no-op
// while the publisher is connected or already reconnecting. After a
// channel-scoped teardown the existing connection is reused.
func (p *Publisher) Reconnect(ctx context.Context) error {
	if p == nil {
		return ErrNotConnected
	}

	p.mu.Lock()
	if p.state == StateConnected || p.state == StateConnecting {
		p.mu.Unlock()
		return nil
	}
	fallback := p.state
	conn := p.conn
	if conn != nil && conn.IsClosed() {
		conn = nil
		p.conn = nil
	}
	gen := p.beginConnecting()
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		p.fail(gen, fallback)
		return err
	}

	if conn != nil {
		ch, err := p.setup(conn)
		if err != nil {
			p.fail(gen, fallback)
			return err
		}
		if !p.install(gen, conn, ch, nil) {
			ch.Close()
			return ErrClosed
		}
		return nil
	}

	conn, ch, closes, err := p.dialAndSetup(ctx)
	if err != nil {
		p.fail(gen, fallback)
		return err
	}
	if !p.install(gen, conn, ch, closes) {
		ch.Close()
		conn.Close()
		return ErrClosed
	}
	return nil
}

// Publish serializes msg to JSON and sends it to the queue, waiting for the
// broker confirm. While an automatic reconnect is in progress Publish waits
// for it, bounded by ctx.
func (p *Publisher) Publish(ctx context.Context, msg any) error {
	if p == nil {
		return ErrNotConnected
	}

	ch, gen, err := p.activeChannel(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	board := BoardLabel(body)

	ctx, span := p.tracer.Start(ctx, "rabbitmq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.queue.Name),
			attribute.String("board", board),
		),
	)
	defer span.End()

	start := time.Now()
	err = ch.Publish(ctx, p.queue.Name, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		// The caller gave up waiting; the broker did not reject anything.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.metrics.RecordPublish(ctx, p.queue.Name, telemetry.OutcomeCanceled, durationMs)
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}

		p.logger.Printf("Message was rejected: %v", err)
		p.metrics.RecordPublish(ctx, p.queue.Name, telemetry.OutcomeRejected, durationMs)
		p.teardown(ctx, gen)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.metrics.RecordPublish(ctx, p.queue.Name, telemetry.OutcomeAcked, durationMs)
	p.logger.Printf("Message was sent! board=%s", board)
	return nil
}

// Close closes the channel and the connection and stops any reconnect in
// progress. Calling Close more than once is safe.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	ch, conn := p.channel, p.conn
	p.channel, p.conn = nil, nil
	p.generation++
	if p.cancelRedial != nil {
		p.cancelRedial()
		p.cancelRedial = nil
	}
	p.settle(StateClosed)
	p.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			p.logger.Printf("Error closing RabbitMQ channel: %v", err)
		}
	}
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

// activeChannel returns the live channel, waiting out a reconnect
func (p *Publisher) activeChannel(ctx context.Context) (Channel, uint64, error) {
	for {
		p.mu.Lock()
		switch p.state {
		case StateConnected:
			ch, gen := p.channel, p.generation
			p.mu.Unlock()
			return ch, gen, nil
		case StateClosed:
			p.mu.Unlock()
			return nil, 0, ErrClosed
		case StateDisconnected:
			p.mu.Unlock()
			return nil, 0, ErrNotConnected
		}
		settled := p.settled
		p.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

// teardown closes the session after a failed publish. Only the first failure
// of a generation closes anything.
func (p *Publisher) teardown(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if p.generation != gen || p.state != StateConnected {
		p.mu.Unlock()
		return
	}
	ch, conn := p.channel, p.conn
	p.channel = nil
	if p.opts.Teardown == TeardownConnection {
		p.conn = nil
	}
	p.state = StateClosed
	p.mu.Unlock()

	if err := ch.Close(); err != nil {
		p.logger.Printf("Error closing RabbitMQ channel: %v", err)
	}
	if p.opts.Teardown == TeardownConnection {
		if err := conn.Close(); err != nil {
			p.logger.Printf("Error closing RabbitMQ connection: %v", err)
		}
	}
	p.metrics.RecordTeardown(ctx, string(p.opts.Teardown))
}

// beginConnecting must be called with p.mu held
func (p *Publisher) beginConnecting() uint64 {
	p.generation++
	p.state = StateConnecting
	p.settled = make(chan struct{})
	return p.generation
}

// settle must be called with p.mu held
func (p *Publisher) settle(state State) {
	if p.state == StateConnecting {
		close(p.settled)
	}
	p.state = state
}

func (p *Publisher) fail(gen uint64, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation == gen && p.state == StateConnecting {
		p.settle(state)
	}
}

// install makes conn and ch the live session if gen is still current.
// A non-nil closes starts a watcher for conn.
func (p *Publisher) install(gen uint64, conn Conn, ch Channel, closes chan *amqp.Error) bool {
	p.mu.Lock()
	if p.generation != gen || p.state != StateConnecting {
		p.mu.Unlock()
		return false
	}
	p.conn, p.channel = conn, ch
	p.cancelRedial = nil
	p.settle(StateConnected)
	p.mu.Unlock()

	if closes != nil {
		go p.watch(conn, closes)
	}
	p.logger.Println("Connected to rabbitmq!")
	return true
}

func (p *Publisher) dialAndSetup(ctx context.Context) (Conn, Channel, chan *amqp.Error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	conn, err := p.dial(p.opts.URL, connectionConfig(p.opts.ConnectionName))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := p.setup(conn)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	return conn, ch, closes, nil
}

// setup opens the channel and declares the queue on it
func (p *Publisher) setup(conn Conn) (Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := p.queue.Declare(ch); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// watch waits for conn to close. Connections closed by the publisher itself
// are detached first, so anything else is a disconnect.
func (p *Publisher) watch(conn Conn, closes chan *amqp.Error) {
	amqpErr, ok := <-closes

	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	if p.state != StateConnected {
		// torn down to the channel only; nothing to reconnect
		p.conn = nil
		p.mu.Unlock()
		return
	}
	p.conn, p.channel = nil, nil
	gen := p.beginConnecting()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelRedial = cancel
	p.mu.Unlock()

	if ok && amqpErr != nil {
		p.logger.Printf("Disconnected from rabbitmq: %v", amqpErr)
	} else {
		p.logger.Println("Disconnected from rabbitmq")
	}

	p.redial(ctx, gen)
	cancel()
}

// redial reconnects with exponential backoff until it succeeds or ctx is
// canceled by Close.
func (p *Publisher) redial(ctx context.Context, gen uint64) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.ReconnectInitialInterval
	b.MaxInterval = p.opts.ReconnectMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	operation := func() error {
		conn, ch, closes, err := p.dialAndSetup(ctx)
		if err != nil {
			return err
		}
		if !p.install(gen, conn, ch, closes) {
			ch.Close()
			conn.Close()
			return backoff.Permanent(ErrClosed)
		}
		p.metrics.RecordReconnect(ctx, p.queue.Name)
		return nil
	}
	notify := func(err error, next time.Duration) {
		p.logger.Printf("Reconnect to rabbitmq failed: %v (retrying in %s)", err, next)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		p.logger.Printf("Gave up reconnecting to rabbitmq: %v", err)
	}
}
