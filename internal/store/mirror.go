package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/liqguard/insurance-engine/internal/model"
)

// Mirror copies committed ledger events into a Store for display. It
// satisfies the pool engine's event sink. Failures are logged and dropped;
// the ledger never depends on the mirror.
type Mirror struct {
	store   Store
	timeout time.Duration
	log     *zap.Logger
}

// NewMirror creates a mirror writing to st.
func NewMirror(st Store, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{store: st, timeout: 2 * time.Second, log: log.Named("mirror")}
}

func (m *Mirror) Record(ctx context.Context, ev model.LedgerEvent) {
	// Detach from the caller's cancellation; the event is already committed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	if err := m.store.InsertLedgerEvent(ctx, &ev); err != nil {
		m.log.Warn("mirror ledger event",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}
