// Package gochannel provides the in-process event transport used by single-node deployments and
// tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CreateChannel returns one GoChannel acting as both publisher and subscriber. Instance events
// are fire-and-forget, so publishing never waits for a consumer.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger)

	return pubSub, pubSub, nil
}

// CreateTestChannel keeps published events for late subscribers and blocks until they are acked.
func CreateTestChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            16,
		Persistent:                     true,
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	return pubSub, pubSub, nil
}
