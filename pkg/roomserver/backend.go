package roomserver

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/scenesync/pkg/redisstream"
)

// Backend carries published room messages to every member subscription of
// the same topic.
type Backend interface {
	Topic(roomID string) string
	Publish(topic string, msg *message.Message) error
	// Subscribe returns messages published to topic after Subscribe returns.
	// The channel closes once ctx is done.
	Subscribe(ctx context.Context, topic, memberID string) (<-chan *message.Message, error)
	Close() error
}

type goChannelBackend struct {
	pubsub *gochannel.GoChannel
}

// NewGoChannelBackend fans out in process. Messages are not persisted, so a
// member only sees what was published while it was subscribed.
func NewGoChannelBackend(logger watermill.LoggerAdapter) Backend {
	return &goChannelBackend{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger),
	}
}

func (b *goChannelBackend) Topic(roomID string) string {
	return "room." + roomID
}

func (b *goChannelBackend) Publish(topic string, msg *message.Message) error {
	return b.pubsub.Publish(topic, msg)
}

func (b *goChannelBackend) Subscribe(ctx context.Context, topic, _ string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *goChannelBackend) Close() error {
	return b.pubsub.Close()
}

type redisBackend struct {
	settings  redisstream.Settings
	client    redis.UniversalClient
	publisher message.Publisher
	logger    watermill.LoggerAdapter
}

// NewRedisBackend fans out through one Redis stream per room. Every member
// reads through its own consumer group, created at the stream tail.
func NewRedisBackend(ctx context.Context, s redisstream.Settings, logger watermill.LoggerAdapter) (Backend, error) {
	client, err := redisstream.NewClient(ctx, s)
	if err != nil {
		return nil, err
	}
	pub, err := redisstream.BuildPublisher(client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisBackend{settings: s, client: client, publisher: pub, logger: logger}, nil
}

func (b *redisBackend) Topic(roomID string) string {
	return b.settings.StreamName(roomID)
}

func (b *redisBackend) Publish(topic string, msg *message.Message) error {
	return b.publisher.Publish(topic, msg)
}

func (b *redisBackend) Subscribe(ctx context.Context, topic, memberID string) (<-chan *message.Message, error) {
	group := "member-" + memberID
	if err := redisstream.EnsureGroupAtTail(ctx, b.client, topic, group); err != nil {
		return nil, err
	}
	sub, err := redisstream.BuildGroupSubscriber(b.client, group, memberID, b.logger)
	if err != nil {
		return nil, err
	}
	ch, err := sub.Subscribe(ctx, topic)
	if err != nil {
		_ = sub.Close()
		return nil, errors.Wrapf(err, "subscribe to %s", topic)
	}
	go func() {
		<-ctx.Done()
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Str("component", "roomserver").Str("member", memberID).Msg("redis subscriber close failed")
		}
		if err := redisstream.DropGroup(context.Background(), b.client, topic, group); err != nil {
			log.Debug().Err(err).Str("component", "roomserver").Str("group", group).Msg("could not drop consumer group")
		}
	}()
	return ch, nil
}

func (b *redisBackend) Close() error {
	err := b.publisher.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}
