// Package notify delivers claim-lifecycle and ledger notifications to
// external consumers. Delivery is fire-and-forget: a sink never reports
// failure to the publisher and never blocks it for long.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/liqguard/insurance-engine/internal/model"
)

// Sink receives notifications on a named channel.
type Sink interface {
	Publish(channel string, event model.Event)
}

// Multi fans a notification out to several sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a Multi, skipping nil sinks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Publish(channel string, event model.Event) {
	if m == nil {
		return
	}
	for _, s := range m.sinks {
		s.Publish(channel, event)
	}
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notify")}
}

func (s *LogSink) Publish(channel string, event model.Event) {
	fields := []zap.Field{
		zap.String("channel", channel),
		zap.String("type", event.Type),
	}
	if !event.Owner.IsNull() {
		fields = append(fields, zap.String("owner", event.Owner.String()))
	}
	if event.PolicyIndex != nil {
		fields = append(fields, zap.Uint64("policy_index", *event.PolicyIndex))
	}
	if event.Receipt != "" {
		fields = append(fields, zap.String("receipt", event.Receipt))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	s.log.Info("notification", fields...)
}

// LedgerForwarder republishes committed ledger events on the pool channel.
// It satisfies the pool engine's event sink.
type LedgerForwarder struct {
	sink Sink
}

// NewLedgerForwarder wraps sink.
func NewLedgerForwarder(sink Sink) *LedgerForwarder {
	return &LedgerForwarder{sink: sink}
}

func (f *LedgerForwarder) Record(_ context.Context, ev model.LedgerEvent) {
	e := ev
	f.sink.Publish(model.ChannelPool, model.Event{
		Type:        model.NotifyLedger,
		Owner:       ev.Actor,
		PolicyIndex: ev.PolicyIndex,
		Ledger:      &e,
		Timestamp:   time.Now().UTC(),
	})
}
