package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Handler reacts to a published event.
type Handler func(ctx context.Context, evt Event) error

// Bus is a synchronous in-process dispatcher. Handler failures never reach the
// publisher: they are logged and counted.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	logger   *slog.Logger
	failures *prometheus.CounterVec
	handled  *prometheus.CounterVec
}

// NewBus constructs a Bus. registerer may be nil to skip metrics.
func NewBus(logger *slog.Logger, registerer prometheus.Registerer) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{handlers: make(map[Name][]Handler), logger: logger}
	if registerer != nil {
		b.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilityops_event_handler_failures_total",
			Help: "Domain event handler failures swallowed by the bus.",
		}, []string{"event"})
		b.handled = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilityops_events_dispatched_total",
			Help: "Domain events dispatched to subscribers.",
		}, []string{"event"})
		registerer.MustRegister(b.failures, b.handled)
	}
	return b
}

// Subscribe registers handler for the named event.
func (b *Bus) Subscribe(name Name, handler Handler) {
	if b == nil || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish dispatches events in order to every subscriber.
func (b *Bus) Publish(ctx context.Context, evts ...Event) {
	if b == nil {
		return
	}
	for _, evt := range evts {
		b.mu.RLock()
		handlers := append([]Handler(nil), b.handlers[evt.Name]...)
		b.mu.RUnlock()
		for _, h := range handlers {
			if err := b.dispatch(ctx, h, evt); err != nil {
				b.logger.Error("event handler failed",
					slog.String("event", string(evt.Name)),
					slog.Int64("subject_id", evt.SubjectID),
					slog.Any("error", err))
				if b.failures != nil {
					b.failures.WithLabelValues(string(evt.Name)).Inc()
				}
			}
		}
		if b.handled != nil {
			b.handled.WithLabelValues(string(evt.Name)).Inc()
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}
