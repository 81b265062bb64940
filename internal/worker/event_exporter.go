package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/observability"
)

const defaultExportBuffer = 1024

// EventSink receives exported domain events.
type EventSink interface {
	Publish(ctx context.Context, eventType events.EventType, payload []byte, partitionKey string) error
}

// EventExporter forwards every dispatched domain event to an external sink.
// Handlers only enqueue, so a slow sink never blocks a chat flow; events that
// do not fit in the buffer are dropped and counted.
type EventExporter struct {
	sink    EventSink
	queue   chan events.Event
	metrics *observability.Metrics
	logger  *zap.Logger
	timeout time.Duration
}

// NewEventExporter creates an exporter with the given buffer size.
func NewEventExporter(sink EventSink, bufferSize int, metrics *observability.Metrics, logger *zap.Logger) *EventExporter {
	if bufferSize <= 0 {
		bufferSize = defaultExportBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventExporter{
		sink:    sink,
		queue:   make(chan events.Event, bufferSize),
		metrics: metrics,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// StartEventExporter subscribes the exporter to every event type.
func StartEventExporter(dispatcher events.Dispatcher, exporter *EventExporter) {
	if dispatcher == nil || exporter == nil {
		return
	}
	dispatcher.SubscribeAll(exporter.enqueue)
}

func (e *EventExporter) enqueue(_ context.Context, event events.Event) error {
	select {
	case e.queue <- event:
	default:
		e.metrics.RecordExportedEvent("dropped")
		e.logger.Warn("event export buffer full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
	}
	return nil
}

// Run publishes queued events until ctx is done, then flushes what is left.
func (e *EventExporter) Run(ctx context.Context) {
	for {
		select {
		case event := <-e.queue:
			e.export(ctx, event)
		case <-ctx.Done():
			e.drain()
			return
		}
	}
}

func (e *EventExporter) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	for {
		select {
		case event := <-e.queue:
			e.export(flushCtx, event)
		default:
			return
		}
	}
}

func (e *EventExporter) export(ctx context.Context, event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.metrics.RecordExportedEvent("encode_error")
		e.logger.Error("encode event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.sink.Publish(publishCtx, event.Type, payload, event.AggregateID); err != nil {
		e.metrics.RecordExportedEvent("error")
		e.logger.Warn("export event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return
	}
	e.metrics.RecordExportedEvent("ok")
}
