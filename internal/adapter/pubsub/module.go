package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/agent-event-bus/config"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewGoChannel,
		func(ch *gochannel.GoChannel) message.Publisher { return ch },
		func(ch *gochannel.GoChannel) message.Subscriber { return ch },
		func(pub message.Publisher, cfg *config.Config) EventDispatcher {
			return NewEventDispatcher(pub, cfg.PubSub.EgressPrefix)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, ch *gochannel.GoChannel) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return ch.Close() },
		})
	}),
)
