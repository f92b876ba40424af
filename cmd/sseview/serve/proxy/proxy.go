// Package proxycmder provides the capture proxy server command.
package proxycmder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/sseview/pkg/config"
	"github.com/papercomputeco/sseview/pkg/intercept"
	"github.com/papercomputeco/sseview/pkg/logger"
	"github.com/papercomputeco/sseview/proxy"
)

// relayTimeout bounds one message delivery to the API server.
const relayTimeout = 5 * time.Second

type proxyCommander struct {
	listen         string
	upstream       string
	defaultContext string
	maxBodyBytes   uint
	apiTarget      string
	logFormat      string

	debug  bool
	cfg    *config.Config
	logger *slog.Logger
}

const proxyLongDesc string = `Run the capture proxy.

The proxy transparently forwards every request to the configured upstream.
Responses with Content-Type text/event-stream are streamed back to the client
as they arrive and, at the same time, parsed into events that are delivered
to the sseview API server at --api-target.

Requests are attributed to the browsing context named by the
X-Sseview-Context header, or to --default-context when it is absent.`

const proxyShortDesc string = "Run the sseview capture proxy"

var proxyFlags = []string{
	config.FlagProxyListenStandalone,
	config.FlagUpstream,
	config.FlagDefaultContext,
	config.FlagMaxBodyBytes,
	config.FlagAPITarget,
	config.FlagLogFormat,
}

func NewProxyCmd() *cobra.Command {
	cmder := &proxyCommander{}

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: proxyShortDesc,
		Long:  proxyLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = config.Resolve(cmd, proxyFlags...)
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

	config.AddStringFlag(cmd, config.Flags, config.FlagProxyListenStandalone, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagDefaultContext, &cmder.defaultContext)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxBodyBytes, &cmder.maxBodyBytes)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFormat, &cmder.logFormat)

	return cmd
}

func (c *proxyCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug || c.cfg.Log.Debug),
		logger.WithSource(c.debug),
		logger.WithFormat(c.cfg.Log.Format),
	)

	relay := intercept.NewHTTPRelay(c.cfg.Client.APITarget, &http.Client{Timeout: relayTimeout})

	p, err := proxy.New(ProxyConfig(c.cfg), relay, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}

	c.logger.Info("relaying captures", "api_target", c.cfg.Client.APITarget)

	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Run()
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errChan:
		return err
	case <-sigCtx.Done():
		c.logger.Info("received signal, shutting down")
		return p.Close()
	}
}

// ProxyConfig maps the resolved configuration onto proxy.Config.
func ProxyConfig(cfg *config.Config) proxy.Config {
	return proxy.Config{
		ListenAddr:       cfg.Proxy.Listen,
		UpstreamURL:      cfg.Proxy.Upstream,
		DefaultContextID: cfg.Proxy.DefaultContext,
		MaxBodyBytes:     int64(cfg.Capture.MaxBodyBytes),
	}
}
