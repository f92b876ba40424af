// Package eventstreamutils is the eventstream utility package
package eventstreamutils

import (
	"fmt"
	"log/slog"

	"github.com/papercomputeco/sseview/pkg/eventstream"
	"github.com/papercomputeco/sseview/pkg/eventstream/kafka"
	"github.com/papercomputeco/sseview/pkg/eventstream/nop"
)

type NewPublisherOpts struct {
	ProviderType string
	Brokers      []string
	Topic        string
	ClientID     string
	Logger       *slog.Logger
}

func NewPublisher(o *NewPublisherOpts) (eventstream.Publisher, error) {
	switch o.ProviderType {
	case "", "none":
		return nop.NewPublisher(), nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{
			Brokers:  o.Brokers,
			Topic:    o.Topic,
			ClientID: o.ClientID,
			Logger:   o.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported eventstream provider: %s", o.ProviderType)
	}
}
