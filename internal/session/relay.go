package session

import (
	"context"
	"fmt"
	"time"

	"kinechat/internal/logger"
	"kinechat/internal/models"
)

// Publisher forwards a missed delivery to other instances.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, payload any) error
}

// Relay pushes externally produced answers to open session streams.
type Relay struct {
	registry *Registry
	bridge   Publisher
}

func NewRelay(registry *Registry) *Relay {
	return &Relay{registry: registry}
}

// UseBridge enables cross-instance fan-out. Call before serving.
func (r *Relay) UseBridge(p Publisher) {
	r.bridge = p
}

// Deliver sends payload to sessionID's stream. A missing connection is not
// an error: delivered is false and nothing is queued (beyond publishing to
// the bridge when one is configured).
func (r *Relay) Deliver(ctx context.Context, sessionID string, payload any) (bool, error) {
	delivered, err := r.DeliverLocal(ctx, sessionID, payload)
	if err != nil || delivered || r.bridge == nil {
		return delivered, err
	}
	if err := r.bridge.Publish(ctx, sessionID, payload); err != nil {
		logger.FromCtx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("relay bridge publish failed")
	}
	return false, nil
}

// DeliverLocal only consults this instance's registry. On a failed push the
// stale connection is released and ErrDeliveryFailed returned; there is no retry.
func (r *Relay) DeliverLocal(ctx context.Context, sessionID string, payload any) (bool, error) {
	log := logger.FromCtx(ctx)
	conn, ok := r.registry.Lookup(sessionID)
	if !ok {
		log.Info().Str("session_id", sessionID).Msg("no active connection for session")
		return false, nil
	}

	ev := models.Event{
		Type:      models.EventMessage,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if rp, ok := payload.(models.RelayPayload); ok {
		ev.Message = rp.Text
	}
	if err := conn.Send(ev); err != nil {
		r.registry.Release(sessionID, conn)
		log.Warn().Err(err).Str("session_id", sessionID).Msg("stream push failed, connection released")
		return false, fmt.Errorf("deliver to %s: %w: %w", sessionID, models.ErrDeliveryFailed, err)
	}
	return true, nil
}
