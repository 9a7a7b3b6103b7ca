package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultStreamMaxLen = 100000

var tracer = otel.Tracer("notify")

// RedisStreamSink appends events to a Redis stream for out-of-process consumers
// such as the e-mail worker.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink builds a sink writing to stream, trimmed to roughly maxLen entries.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string {
	return "redis_stream"
}

// Deliver XADDs the JSON-encoded event under the "data" field.
func (s *RedisStreamSink) Deliver(ctx context.Context, event Event) error {
	ctx, span := tracer.Start(ctx, "notify.redis.Deliver",
		trace.WithAttributes(
			attribute.String("stream", s.stream),
			attribute.String("event.type", string(event.Type)),
			attribute.String("project.id", event.ProjectID),
		))
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(event.Type),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}
