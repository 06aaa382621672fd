package session

import (
	"context"
	"encoding/json"
	"fmt"

	"kinechat/internal/logger"
	"kinechat/internal/models"
	"kinechat/internal/redis"

	"github.com/google/uuid"
)

type bridgeMessage struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Bridge fans relay misses out over redis pub/sub so the instance holding
// the session's stream can deliver it.
type Bridge struct {
	client   *redis.Client
	channel  string
	relay    *Relay
	instance string
}

func NewBridge(client *redis.Client, channel string, relay *Relay) *Bridge {
	return &Bridge{
		client:   client,
		channel:  channel,
		relay:    relay,
		instance: uuid.NewString(),
	}
}

// Publish implements Publisher.
func (b *Bridge) Publish(ctx context.Context, sessionID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bridge payload: %w", err)
	}
	data, err := json.Marshal(bridgeMessage{Origin: b.instance, SessionID: sessionID, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data)
}

// Run delivers messages published by other instances until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	defer pubsub.Close()

	log := logger.FromCtx(ctx)
	log.Info().Str("channel", b.channel).Str("instance", b.instance).Msg("relay bridge listening")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var bm bridgeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				log.Warn().Err(err).Msg("relay bridge decode failed")
				continue
			}
			if bm.Origin == b.instance {
				continue
			}
			if _, err := b.relay.DeliverLocal(ctx, bm.SessionID, decodePayload(bm.Payload)); err != nil {
				log.Warn().Err(err).Msg("relay bridge delivery failed")
			}
		}
	}
}

// decodePayload restores a relay payload; anything else passes through raw.
func decodePayload(raw json.RawMessage) any {
	var p models.RelayPayload
	if err := json.Unmarshal(raw, &p); err == nil && p.Text != "" {
		return p
	}
	return raw
}
