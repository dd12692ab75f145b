package realtime

import (
	"context"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/repository"
)

// SignalRelay stores a signaling message and then publishes the stored row
// to its recipient.
type SignalRelay struct {
	signals repository.SignalRepository
	pub     Publisher
}

func NewSignalRelay(signals repository.SignalRepository, pub Publisher) *SignalRelay {
	return &SignalRelay{signals: signals, pub: pub}
}

func (r *SignalRelay) Send(ctx context.Context, msg domain.SignalMessage) error {
	stored, err := r.signals.Create(ctx, msg)
	if err != nil {
		return fmt.Errorf("store signal: %w", err)
	}
	if err := r.pub.PublishSignal(ctx, *stored); err != nil {
		return fmt.Errorf("publish signal %d: %w", stored.ID, err)
	}
	return nil
}
