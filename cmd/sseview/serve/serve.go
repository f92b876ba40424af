// Package servecmder provides the serve command with subcommands for running services.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/sseview/api"
	apicmder "github.com/papercomputeco/sseview/cmd/sseview/serve/api"
	proxycmder "github.com/papercomputeco/sseview/cmd/sseview/serve/proxy"
	"github.com/papercomputeco/sseview/pkg/config"
	"github.com/papercomputeco/sseview/pkg/logger"
	"github.com/papercomputeco/sseview/proxy"
)

const shutdownTimeout = 5 * time.Second

type ServeCommander struct {
	proxyListen    string
	apiListen      string
	upstream       string
	defaultContext string
	disableMCP     bool
	dedupeWindow   uint
	observerBuffer uint
	maxBodyBytes   uint
	streamProvider string
	streamBrokers  string
	streamTopic    string
	logFormat      string

	debug  bool
	cfg    *config.Config
	logger *slog.Logger
}

const serveLongDesc string = `Run sseview services.

Use subcommands to run individual services or all services together:
  sseview serve          Run both the capture proxy and API server together
  sseview serve api      Run just the API server
  sseview serve proxy    Run just the capture proxy

Run together, the proxy hands captured traffic straight to the in-process
aggregator instead of posting it to the API over HTTP.`

const serveShortDesc string = "Run sseview services"

var serveFlags = []string{
	config.FlagProxyListen,
	config.FlagAPIListen,
	config.FlagUpstream,
	config.FlagDefaultContext,
	config.FlagDisableMCP,
	config.FlagDedupeWindow,
	config.FlagObserverBuffer,
	config.FlagMaxBodyBytes,
	config.FlagStreamProvider,
	config.FlagStreamBrokers,
	config.FlagStreamTopic,
	config.FlagLogFormat,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = config.Resolve(cmd, serveFlags...)
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

	config.AddStringFlag(cmd, config.Flags, config.FlagProxyListen, &cmder.proxyListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagDefaultContext, &cmder.defaultContext)
	config.AddBoolFlag(cmd, config.Flags, config.FlagDisableMCP, &cmder.disableMCP)
	config.AddUintFlag(cmd, config.Flags, config.FlagDedupeWindow, &cmder.dedupeWindow)
	config.AddUintFlag(cmd, config.Flags, config.FlagObserverBuffer, &cmder.observerBuffer)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxBodyBytes, &cmder.maxBodyBytes)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamProvider, &cmder.streamProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamBrokers, &cmder.streamBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamTopic, &cmder.streamTopic)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFormat, &cmder.logFormat)

	cmd.AddCommand(apicmder.NewAPICmd())
	cmd.AddCommand(proxycmder.NewProxyCmd())

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug || c.cfg.Log.Debug),
		logger.WithSource(c.debug),
		logger.WithFormat(c.cfg.Log.Format),
	)

	agg, cleanup, err := apicmder.NewAggregator(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	apiServer, err := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
		DisableMCP: c.cfg.API.DisableMCP,
	}, agg, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// The aggregator satisfies intercept.Relay, so captured traffic skips the
	// HTTP hop.
	p, err := proxy.New(proxycmder.ProxyConfig(c.cfg), agg, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}

	c.logger.Info("starting sseview",
		"proxy_addr", c.cfg.Proxy.Listen,
		"api_addr", c.cfg.API.Listen,
		"upstream", c.cfg.Proxy.Upstream,
		"eventstream", c.cfg.EventStream.Provider,
	)

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("proxy error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err = <-errChan:
	case <-sigCtx.Done():
		c.logger.Info("received signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if perr := p.Close(); perr != nil {
		c.logger.Warn("proxy shutdown failed", "error", perr)
	}
	if aerr := apiServer.Shutdown(shutdownCtx); aerr != nil {
		c.logger.Warn("API server shutdown failed", "error", aerr)
	}

	return err
}
