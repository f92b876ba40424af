// Package apicmder provides the API sseview server cobra command.
package apicmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/sseview/api"
	"github.com/papercomputeco/sseview/pkg/aggregator"
	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/config"
	eventstreamutils "github.com/papercomputeco/sseview/pkg/eventstream/utils"
	"github.com/papercomputeco/sseview/pkg/logger"
	"github.com/papercomputeco/sseview/proxy/worker"
)

type apiCommander struct {
	listen         string
	disableMCP     bool
	dedupeWindow   uint
	observerBuffer uint
	streamProvider string
	streamBrokers  string
	streamTopic    string
	logFormat      string

	debug  bool
	cfg    *config.Config
	logger *slog.Logger
}

const apiLongDesc string = `Run the sseview API server.

The API server owns the capture session registry. Page contexts and capture
proxies deliver SESSION_START and EVENT_RECEIVED messages to it; observers
query sessions over HTTP or follow them live over a websocket. An MCP endpoint
exposes the same sessions to agents.

Captured sessions and events can also be published to Kafka with
--eventstream-provider kafka.`

const apiShortDesc string = "Run the sseview API server"

var apiFlags = []string{
	config.FlagAPIListenStandalone,
	config.FlagDisableMCP,
	config.FlagDedupeWindow,
	config.FlagObserverBuffer,
	config.FlagStreamProvider,
	config.FlagStreamBrokers,
	config.FlagStreamTopic,
	config.FlagLogFormat,
}

func NewAPICmd() *cobra.Command {
	cmder := &apiCommander{}

	cmd := &cobra.Command{
		Use:   "api",
		Short: apiShortDesc,
		Long:  apiLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = config.Resolve(cmd, apiFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListenStandalone, &cmder.listen)
	config.AddBoolFlag(cmd, config.Flags, config.FlagDisableMCP, &cmder.disableMCP)
	config.AddUintFlag(cmd, config.Flags, config.FlagDedupeWindow, &cmder.dedupeWindow)
	config.AddUintFlag(cmd, config.Flags, config.FlagObserverBuffer, &cmder.observerBuffer)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamProvider, &cmder.streamProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamBrokers, &cmder.streamBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamTopic, &cmder.streamTopic)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFormat, &cmder.logFormat)

	return cmd
}

func (c *apiCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug || c.cfg.Log.Debug),
		logger.WithSource(c.debug),
		logger.WithFormat(c.cfg.Log.Format),
	)

	agg, cleanup, err := NewAggregator(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
		DisableMCP: c.cfg.API.DisableMCP,
	}, agg, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errChan:
		return err
	case <-sigCtx.Done():
		c.logger.Info("received signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// NewAggregator builds the aggregator with its registry and, when an event
// stream provider is configured, the publishing worker pool. The returned
// cleanup stops the aggregator before draining the pool and closing the
// publisher.
func NewAggregator(cfg *config.Config, log *slog.Logger) (*aggregator.Aggregator, func(), error) {
	publisher, err := eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		ProviderType: cfg.EventStream.Provider,
		Brokers:      cfg.EventStream.BrokerList(),
		Topic:        cfg.EventStream.Topic,
		ClientID:     cfg.EventStream.ClientID,
		Logger:       log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating event stream publisher: %w", err)
	}

	pool, err := worker.NewPool(&worker.Config{
		Publisher: publisher,
		Logger:    log,
	})
	if err != nil {
		_ = publisher.Close()
		return nil, nil, fmt.Errorf("creating worker pool: %w", err)
	}

	registry := capture.NewRegistry(
		capture.WithDedupeWindow(time.Duration(cfg.Capture.DedupeWindowMS)*time.Millisecond),
		capture.WithLogger(log),
	)

	host, err := os.Hostname()
	if err != nil {
		host = "sseview"
	}

	agg := aggregator.New(aggregator.Config{
		Registry:       registry,
		Pool:           pool,
		Host:           host,
		ObserverBuffer: cfg.Capture.ObserverBuffer,
		Logger:         log,
	})

	if cfg.EventStream.Provider != "" && cfg.EventStream.Provider != "none" {
		log.Info("publishing capture events",
			"provider", cfg.EventStream.Provider,
			"brokers", cfg.EventStream.Brokers,
			"topic", cfg.EventStream.Topic,
		)
	}

	cleanup := func() {
		agg.Close()
		pool.Close()
		if err := publisher.Close(); err != nil {
			log.Warn("closing event stream publisher", "error", err)
		}
	}

	return agg, cleanup, nil
}
