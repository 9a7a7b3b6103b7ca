package notify

import (
	"context"
	"sync"
)

// UserTopic is the subscription key for events addressed to a user.
func UserTopic(userID string) string {
	if userID == "" {
		return ""
	}
	return "user:" + userID
}

// ProjectTopic is the subscription key for every event of a project.
func ProjectTopic(projectID string) string {
	if projectID == "" {
		return ""
	}
	return "project:" + projectID
}

// Dispatcher is the in-process pub/sub feeding the SSE stream.
// Slow subscribers drop events rather than block publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream on topic until ctx ends or the cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(topic, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(topic, sub.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Name identifies the sink in logs and metrics.
func (d *Dispatcher) Name() string {
	return "realtime"
}

// Deliver publishes event to its recipient's topic and its project's topic.
func (d *Dispatcher) Deliver(_ context.Context, event Event) error {
	d.publish(UserTopic(event.RecipientID), event)
	d.publish(ProjectTopic(event.ProjectID), event)
	return nil
}

func (d *Dispatcher) publish(topic string, event Event) {
	if topic == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(topic string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber)
	}
	d.subscribers[topic][sub.id] = sub
}

func (d *Dispatcher) unregister(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
