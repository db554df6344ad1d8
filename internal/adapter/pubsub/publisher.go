package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/agent-event-bus/config"
)

// NewGoChannel builds the in-process broker shared by ingress and egress.
// Publishers never wait for acks; the output buffer bounds how far a slow
// subscriber may lag.
func NewGoChannel(cfg *config.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.PubSub.Buffer,
		BlockPublishUntilSubscriberAck: false,
	}, logger)
}
