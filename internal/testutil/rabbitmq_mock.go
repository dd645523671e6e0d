package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/WailSalutem-Health-Care/board-publisher/internal/messaging"
)

// PublishedMessage represents a message that was published to RabbitMQ
type PublishedMessage struct {
	Board     string
	Message   any
	Timestamp time.Time
	RawJSON   []byte
}

// MockPublisher is a mock implementation of the RabbitMQ publisher for testing.
// It stores all published messages in memory and doesn't make any real RabbitMQ calls.
type MockPublisher struct {
	mu         sync.RWMutex
	messages   []PublishedMessage
	state      messaging.State
	publishErr error
	reconnects int
}

// NewMockPublisher creates a connected mock publisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		messages: make([]PublishedMessage, 0),
		state:    messaging.StateConnected,
	}
}

var _ messaging.PublisherInterface = (*MockPublisher)(nil)

// Publish stores a message in memory, or returns the configured error
func (m *MockPublisher) Publish(ctx context.Context, msg any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case messaging.StateClosed:
		return messaging.ErrClosed
	case messaging.StateDisconnected:
		return messaging.ErrNotConnected
	}
	if m.publishErr != nil {
		return m.publishErr
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.messages = append(m.messages, PublishedMessage{
		Board:     messaging.BoardLabel(jsonData),
		Message:   msg,
		Timestamp: time.Now(),
		RawJSON:   jsonData,
	})
	return nil
}

// Reconnect moves the mock back to connected
func (m *MockPublisher) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnects++
	m.state = messaging.StateConnected
	return nil
}

func (m *MockPublisher) State() messaging.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = messaging.StateClosed
	return nil
}

// Helper methods for test setup and assertions

// SetState forces the session state
func (m *MockPublisher) SetState(state messaging.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// FailWith makes every following Publish return err
func (m *MockPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// GetAllMessages returns a copy of all published messages
func (m *MockPublisher) GetAllMessages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messagesCopy := make([]PublishedMessage, len(m.messages))
	copy(messagesCopy, m.messages)
	return messagesCopy
}

// GetLastMessage returns the most recently published message, or nil
func (m *MockPublisher) GetLastMessage() *PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.messages) == 0 {
		return nil
	}
	last := m.messages[len(m.messages)-1]
	return &last
}

func (m *MockPublisher) ReconnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnects
}

// AssertMessageCount asserts the exact number of published messages
func (m *MockPublisher) AssertMessageCount(t *testing.T, expected int) {
	t.Helper()

	m.mu.RLock()
	count := len(m.messages)
	m.mu.RUnlock()
	if count != expected {
		t.Errorf("Expected %d published messages, got %d", expected, count)
	}
}

// AssertBoardPublished asserts that at least one message for board was published
func (m *MockPublisher) AssertBoardPublished(t *testing.T, board string) {
	t.Helper()

	for _, msg := range m.GetAllMessages() {
		if msg.Board == board {
			return
		}
	}
	t.Errorf("Expected a message for board '%s' to be published, but found none", board)
}
