// Package eventbus delivers host events to the sessions they address. It is
// a host.EventSink that publishes each event as a JSON-RPC notification on a
// per-session topic of an in-memory watermill pub/sub.
//
// Delivery is at most once: events for a session with no subscriber are
// dropped.
package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/mnehpets/servicebox/internal/jsoncodec"
	"github.com/mnehpets/servicebox/internal/logging"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/rs/zerolog"
)

// Metadata keys set on every published message.
const (
	MetadataEvent   = "event"
	MetadataSession = "session"
)

const defaultBuffer = 64

// Bus routes events by session id.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
	prefix string
}

// Option configures a Bus.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	buffer int64
	prefix string
}

// WithLogger sets the logger of the bus and of the underlying pub/sub.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBuffer sets how many notifications may queue per subscriber.
func WithBuffer(n int64) Option {
	return func(o *options) { o.buffer = n }
}

// WithTopicPrefix sets the prefix of session topics, "session." by default.
func WithTopicPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

func New(opts ...Option) *Bus {
	o := options{logger: zerolog.Nop(), buffer: defaultBuffer, prefix: "session."}
	for _, opt := range opts {
		opt(&o)
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: o.buffer,
	}, logging.Watermill(o.logger))
	return &Bus{pubsub: pubsub, logger: o.logger, prefix: o.prefix}
}

// Topic returns the topic carrying the events of session id.
func (b *Bus) Topic(id string) string {
	return b.prefix + id
}

// Publish implements host.EventSink.
func (b *Bus) Publish(event, id string, data any) error {
	payload, err := jsoncodec.Marshal(jsonrpc.NewNotification(event, data))
	if err != nil {
		return fmt.Errorf("eventbus: encode %s: %w", event, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEvent, event)
	msg.Metadata.Set(MetadataSession, id)
	if err := b.pubsub.Publish(b.Topic(id), msg); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", event, err)
	}
	return nil
}

// Subscribe returns the notifications addressed to session id. The channel
// is closed once ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, id string) (<-chan jsonrpc.Notification, error) {
	msgs, err := b.pubsub.Subscribe(ctx, b.Topic(id))
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe %s: %w", id, err)
	}
	out := make(chan jsonrpc.Notification)
	go func() {
		defer close(out)
		for msg := range msgs {
			var n jsonrpc.Notification
			if err := jsoncodec.Unmarshal(msg.Payload, &n); err != nil {
				b.logger.Warn().Err(err).Str("session", id).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			select {
			case out <- n:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close closes the bus and all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
