package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/liqguard/insurance-engine/internal/metrics"
	"github.com/liqguard/insurance-engine/internal/model"
)

// Publisher is the subset of *nats.Conn the NATS sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notifications as JSON on
// {prefix}.{channel}.{event type}, e.g. liqguard.claims.claim.paid.
type NATSSink struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
}

// NewNATSSink creates a sink on pub. An empty prefix defaults to "liqguard".
func NewNATSSink(pub Publisher, prefix string, log *zap.Logger) *NATSSink {
	if prefix == "" {
		prefix = "liqguard"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSSink{pub: pub, prefix: prefix, log: log.Named("nats")}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(channel string, event model.Event) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, channel, event.Type)
}

func (s *NATSSink) Publish(channel string, event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Warn("marshal notification", zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.Subject(channel, event), data); err != nil {
		// Non-fatal: consumers can read the claim store directly.
		metrics.NotificationsDropped.WithLabelValues("nats").Inc()
		s.log.Warn("nats publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// ConnectNATS dials NATS with unlimited reconnects.
func ConnectNATS(url string, log *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("liqguard-insurance-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}
