package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sand/scrap-pickup/backend/internal/core/ports"
	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/observability"
)

var (
	_ ports.EventPublisher = Nop{}
	_ ports.EventPublisher = (*Fanout)(nil)
	_ ports.EventPublisher = (*KafkaPublisher)(nil)
	_ ports.EventPublisher = (*Hub)(nil)
)

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, entities.Event) error { return nil }

type namedPublisher struct {
	name      string
	publisher ports.EventPublisher
}

// Fanout hands each event to every sink. A failing sink does not stop the others.
type Fanout struct {
	logger *slog.Logger
	sinks  []namedPublisher
}

func NewFanout(logger *slog.Logger) *Fanout {
	return &Fanout{logger: logger}
}

// Add registers a sink under name, used as the metrics label.
func (f *Fanout) Add(name string, publisher ports.EventPublisher) *Fanout {
	f.sinks = append(f.sinks, namedPublisher{name: name, publisher: publisher})
	return f
}

func (f *Fanout) Publish(ctx context.Context, event entities.Event) error {
	var errs []error
	for _, sink := range f.sinks {
		err := sink.publisher.Publish(ctx, event)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			errs = append(errs, err)
			f.logger.Warn("Event sink failed", "sink", sink.name, "type", event.Type, "error", err)
		}
		observability.EventsPublished.WithLabelValues(sink.name, outcome).Inc()
	}
	return errors.Join(errs...)
}
