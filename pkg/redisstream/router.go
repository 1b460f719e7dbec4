package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Bus is a publisher/subscriber pair plus whatever needs closing with it.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Redis is set when the bus runs over Redis Streams.
	Redis *redis.Client

	closers []func() error
}

func (b *Bus) UsesRedis() bool { return b != nil && b.Redis != nil }

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		// publisher and subscriber may already have closed the shared client
		if err := b.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) && first == nil {
			first = err
		}
	}
	return first
}

// BuildBus constructs a bus backed by Redis Streams when enabled.
// If settings.Enabled is false, it returns an in-memory gochannel bus whose
// publishes block until every subscriber has acked, which keeps frames of a
// conversation in order.
func BuildBus(s Settings, logger watermill.LoggerAdapter) (*Bus, error) {
	if !s.Enabled {
		gc := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &Bus{Publisher: gc, Subscriber: gc, closers: []func() error{gc.Close}}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}

	log.Info().Str("addr", s.Addr).Str("group", s.Group).Str("consumer", s.Consumer).Msg("using redis streams event bus")
	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		Redis:      client,
		closers:    []func() error{client.Close, pub.Close, sub.Close},
	}, nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given
// consumer group/name, so a second reader gets its own copy of every frame.
func BuildGroupSubscriber(client *redis.Client, group, consumer string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis group subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	if client == nil {
		return errors.New("redis client is nil")
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
