// Package events carries job and file progress from the engine to
// whatever is rendering it.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oceanhydro/hydrodl/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventJobState    EventType = "job_state"
	EventFile        EventType = "file"
	EventRunComplete EventType = "run_complete"
)

// Stages a job passes through.
const (
	StageSubmit   = "submit"
	StageRun      = "run"
	StageBulk     = "bulk"
	StageFallback = "fallback"
	StageArchive  = "archive"
	StageDone     = "done"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
	RunID     string
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// JobStateEvent reports a job entering a stage, or finishing.
type JobStateEvent struct {
	BaseEvent
	JobKey  string
	Stage   string
	Status  string
	Message string

	// ExpectedFiles is -1 while unknown.
	ExpectedFiles int
}

// FileEvent reports one file handled by a download stage.
type FileEvent struct {
	BaseEvent
	JobKey   string
	Filename string
	State    string // "downloaded", "exists" or "failed"
	Bytes    int64
	Done     int
	Total    int
}

// RunCompleteEvent is published once per engine call.
type RunCompleteEvent struct {
	BaseEvent
	TotalJobs   int
	SuccessJobs int
	SkippedJobs int
	FailedJobs  int
	Duration    time.Duration
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events that
// do not fit a subscriber's buffer are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishJobState is a convenience method for publishing job state events
func (eb *EventBus) PublishJobState(runID, jobKey, stage, status, message string, expected int) {
	eb.Publish(&JobStateEvent{
		BaseEvent:     BaseEvent{EventType: EventJobState, Time: time.Now(), RunID: runID},
		JobKey:        jobKey,
		Stage:         stage,
		Status:        status,
		Message:       message,
		ExpectedFiles: expected,
	})
}

// PublishFile is a convenience method for publishing file events
func (eb *EventBus) PublishFile(runID, jobKey, filename, state string, bytes int64, done, total int) {
	eb.Publish(&FileEvent{
		BaseEvent: BaseEvent{EventType: EventFile, Time: time.Now(), RunID: runID},
		JobKey:    jobKey,
		Filename:  filename,
		State:     state,
		Bytes:     bytes,
		Done:      done,
		Total:     total,
	})
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
