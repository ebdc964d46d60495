package service

import (
	"sync"

	"nictopo/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventHostStarted     EventType = "host_started"
	EventAdapterFinished EventType = "adapter_finished"
	EventHostFinished    EventType = "host_finished"
	EventRunFinished     EventType = "run_finished"
)

// Event represents progress of a run
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	// Host is empty for run-level events
	Host    string      `json:"host,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// RunSummary is the payload of run-level events
type RunSummary struct {
	Hosts     int `json:"hosts"`
	Anomalies int `json:"anomalies,omitempty"`
}

// HostSummary is the payload of EventHostFinished
type HostSummary struct {
	Ports     int `json:"ports"`
	Anomalies int `json:"anomalies"`
	Failed    int `json:"failed_adapters"`
}

// AdapterEvent is the payload of EventAdapterFinished
type AdapterEvent = domain.AdapterStatus

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Publish sends an event to all subscribers. A nil bus drops it.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
