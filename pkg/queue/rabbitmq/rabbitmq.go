package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/queue"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go" // RabbitMQ client
)

const (
	// EventsExchange carries run lifecycle events; consumers bind their own queues.
	EventsExchange = "test_run_events"
	// Topic exchange so consumers can subscribe with "run.*"
	exchangeType = "topic"
	// RunSettledKey is the routing key of RunSettledEvent messages.
	RunSettledKey = "run.settled"
	// RunRequestsQueue holds queued test-case executions, published through the default exchange.
	RunRequestsQueue = "run_requests"
	// Content type for messages
	contentTypeJSON = "application/json"
	publishTimeout  = 5 * time.Second
)

// Ensure RabbitMQManager implements queue.Manager interface at compile time
var _ queue.Manager = (*RabbitMQManager)(nil)

// RabbitMQManager implements the queue.Manager interface using RabbitMQ.
type RabbitMQManager struct {
	conn   *amqp.Connection
	logger *slog.Logger
	// Run-request queue is declared lazily once per connection.
	queueDeclared bool
	mu            sync.Mutex
}

// deliveryAckNacker implements the queue.AckNacker interface for RabbitMQ deliveries.
type deliveryAckNacker struct {
	deliveryTag uint64
	channel     *amqp.Channel // Reference to the channel used for THIS delivery
	logger      *slog.Logger
	closed      bool // Track if ack/nack was already called
	mu          sync.Mutex
}

// Ack acknowledges the message and closes its channel. Idempotent.
func (a *deliveryAckNacker) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Ack already closed AckNacker", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Ack(a.deliveryTag, false) // multiple = false
	if err != nil {
		a.logger.Error("Failed to ACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.String("error", err.Error()))
		return err
	}
	a.closed = true
	_ = a.channel.Close()
	return nil
}

// Nack negatively acknowledges the message and closes its channel. Idempotent.
func (a *deliveryAckNacker) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Nack already closed AckNacker", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Nack(a.deliveryTag, false, requeue) // multiple = false
	if err != nil {
		a.logger.Error("Failed to NACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.Bool("requeue", requeue), slog.String("error", err.Error()))
		return err
	}
	a.closed = true
	_ = a.channel.Close()
	return nil
}

// NewRabbitMQManager creates a new RabbitMQ queue manager.
// It establishes a connection. Channels are created per operation or as needed.
func NewRabbitMQManager(url string, logger *slog.Logger) (*RabbitMQManager, error) {
	logger = logger.With(slog.String("component", "rabbitmq"))
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")

	// Setup close handler to log unexpected connection closures
	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	go func() {
		amqpErr := <-closeChan
		if amqpErr != nil {
			logger.Error("RabbitMQ connection closed unexpectedly", slog.String("error", amqpErr.Error()))
		} else {
			logger.Info("RabbitMQ connection closed normally")
		}
	}()

	manager := &RabbitMQManager{
		conn:   conn,
		logger: logger,
	}

	// Declare the exchange using a temporary channel during initialization
	if err := manager.declareExchange(); err != nil {
		conn.Close()
		return nil, err
	}

	return manager, nil
}

// declareExchange ensures the events exchange exists. Uses a temporary channel.
func (m *RabbitMQManager) declareExchange() error {
	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for exchange declare: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		EventsExchange, // name
		exchangeType,   // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", EventsExchange, err)
	}
	m.logger.Info("Declared exchange", slog.String("exchange", EventsExchange))
	return nil
}

// Close closes the RabbitMQ connection.
func (m *RabbitMQManager) Close() error {
	m.logger.Info("Closing RabbitMQ connection")
	if m.conn != nil && !m.conn.IsClosed() {
		if err := m.conn.Close(); err != nil {
			m.logger.Error("Failed to close RabbitMQ connection", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}

// declareRunRequestQueue ensures the durable run-request queue exists.
func (m *RabbitMQManager) declareRunRequestQueue() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueDeclared {
		return nil
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for queue declare: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		RunRequestsQueue, // name
		true,             // durable (queue survives server restart)
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", RunRequestsQueue, err)
	}
	m.queueDeclared = true
	m.logger.Info("Declared queue", slog.String("queue", RunRequestsQueue))
	return nil
}

func (m *RabbitMQManager) publish(ctx context.Context, exchange, key, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	// Get a temporary channel for publishing
	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for publish: %w", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(ctx,
		exchange, // exchange
		key,      // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent, // Make message persistent
			Timestamp:    time.Now().UTC(),
			Body:         body,
			MessageId:    messageID,
		})
}

// PublishRunSettled publishes the event on the events exchange.
func (m *RabbitMQManager) PublishRunSettled(ctx context.Context, event *models.RunSettledEvent) error {
	if event == nil || event.RunID == "" {
		return errors.New("run settled event requires a run id")
	}
	if err := m.publish(ctx, EventsExchange, RunSettledKey, uuid.NewString(), event); err != nil {
		return fmt.Errorf("failed to publish run settled event for run '%s': %w", event.RunID, err)
	}
	m.logger.Info("Published run settled event",
		slog.String("run_id", event.RunID),
		slog.String("status", event.Status),
	)
	return nil
}

// EnqueueRunRequest publishes a run request onto the run-request queue.
func (m *RabbitMQManager) EnqueueRunRequest(ctx context.Context, testCaseID string) (string, error) {
	if strings.TrimSpace(testCaseID) == "" {
		return "", errors.New("test case id is required")
	}
	if err := m.declareRunRequestQueue(); err != nil {
		return "", err
	}

	req := models.RunRequest{
		ID:          uuid.NewString(),
		TestCaseID:  testCaseID,
		RequestedAt: time.Now().UTC(),
	}
	// Default exchange routes by queue name.
	if err := m.publish(ctx, "", RunRequestsQueue, req.ID, req); err != nil {
		return "", fmt.Errorf("failed to enqueue run request for test case '%s': %w", testCaseID, err)
	}

	m.logger.Info("Enqueued run request",
		slog.String("request_id", req.ID),
		slog.String("test_case_id", testCaseID),
	)
	return req.ID, nil
}

// NextRunRequest pulls the next available message from the run-request queue.
// It uses a dedicated channel for the Get operation; the returned AckNacker
// holds that same channel and closes it on Ack/Nack.
func (m *RabbitMQManager) NextRunRequest(ctx context.Context) (*models.RunRequest, queue.AckNacker, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := m.declareRunRequestQueue(); err != nil {
		return nil, nil, err
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open channel for NextRunRequest: %w", err)
	}
	// We don't defer ch.Close() here because the AckNacker needs it.

	msg, ok, err := ch.Get(RunRequestsQueue, false) // autoAck = false
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to get message from queue '%s': %w", RunRequestsQueue, err)
	}
	if !ok {
		ch.Close()
		return nil, nil, nil
	}

	ackNacker := &deliveryAckNacker{
		deliveryTag: msg.DeliveryTag,
		channel:     ch,
		logger:      m.logger.With(slog.String("request_id", msg.MessageId)),
	}

	req, err := decodeRunRequest(msg.Body)
	if err != nil {
		m.logger.Error("Failed to decode run request",
			slog.String("message_id", msg.MessageId),
			slog.String("error", err.Error()),
		)
		// A malformed request never becomes valid; drop it.
		_ = ackNacker.Nack(false)
		return nil, nil, err
	}

	m.logger.Info("Dequeued run request",
		slog.String("request_id", req.ID),
		slog.String("test_case_id", req.TestCaseID),
	)
	return req, ackNacker, nil
}

// QueueSize returns the message count of the run-request queue.
func (m *RabbitMQManager) QueueSize(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ch, err := m.conn.Channel()
	if err != nil {
		if m.conn.IsClosed() {
			return 0, fmt.Errorf("connection is not open")
		}
		return 0, fmt.Errorf("failed to open temporary channel for queue size check: %w", err)
	}
	defer ch.Close()

	// Use QueueDeclarePassive to get queue info without modifying it
	q, err := ch.QueueDeclarePassive(RunRequestsQueue, true, false, false, false, nil)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return 0, nil // Queue not found is size 0
		}
		return 0, fmt.Errorf("failed to passively declare queue '%s' to get size: %w", RunRequestsQueue, err)
	}
	return q.Messages, nil
}

func decodeRunRequest(body []byte) (*models.RunRequest, error) {
	var req models.RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse run request: %w", err)
	}
	if req.TestCaseID == "" {
		return nil, errors.New("run request has no test case id")
	}
	return &req, nil
}
