// Package notify carries committed-change events to users and project watchers.
package notify

import (
	"context"
	"sync"
	"time"
)

// EventType names a notification.
type EventType string

const (
	EventCommentCreated     EventType = "comment.created"
	EventReplyCreated       EventType = "reply.created"
	EventCommentHighlighted EventType = "comment.highlighted"
	EventCommentResolved    EventType = "comment.resolved"
	EventVersionCut         EventType = "project.version_cut"
	EventProjectPublished   EventType = "project.published"
)

// Event is emitted after the change it describes has committed.
// RecipientID is empty for events addressed only to project watchers.
type Event struct {
	Type        EventType `json:"type"`
	RecipientID string    `json:"recipientId,omitempty"`
	ActorID     string    `json:"actorId,omitempty"`
	ProjectID   string    `json:"projectId"`
	ArticleID   string    `json:"articleId,omitempty"`
	CommentID   string    `json:"commentId,omitempty"`
	ReplyID     string    `json:"replyId,omitempty"`
	Version     int       `json:"version,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Notifier accepts events fire-and-forget. Implementations never report
// delivery failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Discard drops every event.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, Event) {}

// Recorder keeps every event in memory; tests use it to observe emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
