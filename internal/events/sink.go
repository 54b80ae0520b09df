// Package events delivers committed engine events to Kafka, websocket clients and logs.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/metrics"
	"github.com/wonny/otcseller/pkg/logger"
)

// Sink is an EventSink with a metrics label
type Sink interface {
	contracts.EventSink
	Name() string
}

// Message is the wire form of an event; amounts are decimal strings
type Message struct {
	Name      contracts.EventName `json:"name"`
	OrderUID  string              `json:"orderUid"`
	Token     string              `json:"token,omitempty"`
	Amount    string              `json:"amount,omitempty"`
	Signed    *bool               `json:"signed,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewMessage converts an event to its wire form
func NewMessage(e contracts.Event) Message {
	m := Message{
		Name:      e.Name,
		OrderUID:  e.OrderUID.Hex(),
		Timestamp: e.Timestamp.UTC(),
	}
	if e.Amount != nil {
		m.Token = e.Token.Hex()
		m.Amount = e.Amount.String()
	}
	if e.Name == contracts.EventPreSignature {
		signed := e.Signed
		m.Signed = &signed
	}
	return m
}

// Encode marshals an event as JSON
func Encode(e contracts.Event) ([]byte, error) {
	return json.Marshal(NewMessage(e))
}

// =============================================================================
// MultiSink
// =============================================================================

// MultiSink fans events out to every sink in order.
// A failing sink does not stop the others; errors are joined.
type MultiSink struct {
	sinks   []Sink
	metrics *metrics.SellerMetrics
}

// NewMultiSink combines sinks; nil entries are skipped
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{metrics: metrics.Get()}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Publish implements contracts.EventSink
func (m *MultiSink) Publish(ctx context.Context, events ...contracts.Event) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Publish(ctx, events...)
		m.metrics.EventsPublished.WithLabelValues(s.Name(), metrics.Result(err)).Add(float64(len(events)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Recorder
// =============================================================================

// Recorder keeps the most recent events in memory for the API
type Recorder struct {
	mu     sync.RWMutex
	events []contracts.Event
	limit  int
}

// NewRecorder keeps up to limit events
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 256
	}
	return &Recorder{limit: limit}
}

// Name implements Sink
func (r *Recorder) Name() string { return "recorder" }

// Publish implements contracts.EventSink
func (r *Recorder) Publish(ctx context.Context, events ...contracts.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, events...)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append([]contracts.Event(nil), r.events[over:]...)
	}
	return nil
}

// Recent returns a copy of the retained events, oldest first
func (r *Recorder) Recent() []contracts.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]contracts.Event(nil), r.events...)
}

// =============================================================================
// LogSink
// =============================================================================

// LogSink writes each event as a structured log line
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log sink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent("events")}
}

// Name implements Sink
func (l *LogSink) Name() string { return "log" }

// Publish implements contracts.EventSink
func (l *LogSink) Publish(ctx context.Context, events ...contracts.Event) error {
	for _, e := range events {
		m := NewMessage(e)
		fields := map[string]interface{}{
			"event": m.Name,
			"uid":   m.OrderUID,
		}
		if m.Amount != "" {
			fields["token"] = m.Token
			fields["amount"] = m.Amount
		}
		if m.Signed != nil {
			fields["signed"] = *m.Signed
		}
		l.logger.WithFields(fields).Info("Event")
	}
	return nil
}
