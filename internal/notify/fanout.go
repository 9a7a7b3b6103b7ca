package notify

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/metrics"
	"go.uber.org/zap"
)

const defaultDeliveryTimeout = 5 * time.Second

// Sink is one delivery channel behind a Fanout.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Fanout delivers each event to every sink on a background goroutine.
// Sink failures are logged and counted, never returned.
type Fanout struct {
	sinks   []Sink
	logger  *zap.Logger
	timeout time.Duration
	clock   func() time.Time
	wg      sync.WaitGroup
}

// NewFanout constructs a Fanout over sinks; nil sinks are skipped.
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return &Fanout{
		sinks:   active,
		logger:  logger,
		timeout: defaultDeliveryTimeout,
		clock:   time.Now,
	}
}

// Notify schedules delivery and returns immediately. The request context's
// cancellation does not abort delivery.
func (f *Fanout) Notify(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = f.clock().UTC()
	}
	deliveryCtx := context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for _, sink := range f.sinks {
			f.deliver(deliveryCtx, sink, event)
		}
	}()
}

func (f *Fanout) deliver(ctx context.Context, sink Sink, event Event) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := sink.Deliver(ctx, event); err != nil {
		metrics.NotificationsTotal.WithLabelValues(sink.Name(), "failed").Inc()
		f.logger.Warn("notification delivery failed",
			zap.String("sink", sink.Name()),
			zap.String("event_type", string(event.Type)),
			zap.String("project_id", event.ProjectID),
			zap.String("recipient_id", event.RecipientID),
			zap.Error(err))
		return
	}
	metrics.NotificationsTotal.WithLabelValues(sink.Name(), "delivered").Inc()
}

// Wait blocks until every scheduled delivery finished.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
