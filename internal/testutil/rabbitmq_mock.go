package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

// PublishedEvent is one event captured by MockPublisher.
type PublishedEvent struct {
	RoutingKey string
	EventData  interface{}
	RawJSON    []byte
}

// Decode unmarshals the captured payload into v.
func (e PublishedEvent) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(e.RawJSON, v); err != nil {
		t.Fatalf("Failed to decode %s event: %v", e.RoutingKey, err)
	}
}

// MockPublisher records events in memory instead of sending them to RabbitMQ.
// Setting Err makes every Publish fail after recording nothing.
type MockPublisher struct {
	mu     sync.RWMutex
	events []PublishedEvent
	Err    error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, eventData interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	raw, err := json.Marshal(eventData)
	if err != nil {
		return err
	}
	m.events = append(m.events, PublishedEvent{
		RoutingKey: routingKey,
		EventData:  eventData,
		RawJSON:    raw,
	})
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []PublishedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PublishedEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockPublisher) CountByKey(routingKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.events {
		if e.RoutingKey == routingKey {
			n++
		}
	}
	return n
}

// LastByKey returns the most recent event published under routingKey, or nil.
func (m *MockPublisher) LastByKey(routingKey string) *PublishedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].RoutingKey == routingKey {
			e := m.events[i]
			return &e
		}
	}
	return nil
}

func (m *MockPublisher) AssertEventCount(t *testing.T, routingKey string, expected int) {
	t.Helper()
	if got := m.CountByKey(routingKey); got != expected {
		t.Errorf("Expected %d events with routing key '%s', got %d", expected, routingKey, got)
	}
}
