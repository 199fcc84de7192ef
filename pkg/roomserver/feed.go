package roomserver

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
)

// MetadataSessionID names the session that published a room message.
const MetadataSessionID = "session_id"

// memberFeed forwards one member's subscription to its stream, skipping the
// messages that member published itself.
type memberFeed struct {
	sessionID string
	messages  <-chan *message.Message
	heartbeat time.Duration

	deliver     func(payload []byte) error
	onHeartbeat func() error

	logger zerolog.Logger
}

// run returns nil when ctx ends or the subscription closes, and the first
// delivery error otherwise.
func (f *memberFeed) run(ctx context.Context) error {
	var tick <-chan time.Time
	if f.heartbeat > 0 && f.onHeartbeat != nil {
		ticker := time.NewTicker(f.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := f.onHeartbeat(); err != nil {
				return err
			}
		case msg, ok := <-f.messages:
			if !ok {
				f.logger.Debug().Msg("room subscription closed")
				return nil
			}
			if msg.Metadata.Get(MetadataSessionID) == f.sessionID {
				msg.Ack()
				continue
			}
			err := f.deliver(msg.Payload)
			msg.Ack()
			if err != nil {
				return err
			}
		}
	}
}
