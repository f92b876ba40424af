// Package tapcmder provides the tap command, which opens an event stream
// directly and captures it into a running sseview API server.
package tapcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/cliui"
	"github.com/papercomputeco/sseview/pkg/config"
	"github.com/papercomputeco/sseview/pkg/intercept"
	"github.com/papercomputeco/sseview/pkg/logger"
)

type tapCommander struct {
	apiTarget string
	contextID string
	headers   []string
	noRelay   bool
	asJSON    bool

	cfg *config.Config
	out io.Writer
}

const tapLongDesc string = `Open an event stream and capture it.

Connects to the given SSE endpoint the way a page's EventSource would, prints
every event as it arrives and relays the session to the sseview API server at
--api-target, where it shows up next to sessions captured by the proxy.

The connection is never retried: tap exits when the server ends the stream or
on Ctrl-C.

Examples:
  sseview tap http://localhost:3000/events
  sseview tap https://example.com/stream -H "Authorization: Bearer $TOKEN"
  sseview tap http://localhost:3000/events --no-relay --json`

const tapShortDesc string = "Open an event stream and capture it"

func NewTapCmd() *cobra.Command {
	cmder := &tapCommander{}

	cmd := &cobra.Command{
		Use:   "tap <url>",
		Short: tapShortDesc,
		Long:  tapLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = config.Resolve(cmd, config.FlagAPITarget, config.FlagLogFormat)
			if err != nil {
				return err
			}
			if cmder.contextID == "" {
				cmder.contextID = cmder.cfg.Proxy.DefaultContext
			}
			cmder.out = cmd.OutOrStdout()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			debug, _ := cmd.Flags().GetBool("debug")
			log := logger.New(
				logger.WithDebug(debug || cmder.cfg.Log.Debug),
				logger.WithFormat(cmder.cfg.Log.Format),
				logger.WithWriter(cmd.ErrOrStderr()),
			)

			header, err := ParseHeaders(cmder.headers)
			if err != nil {
				return err
			}

			opts := intercept.Options{
				URL:       args[0],
				ContextID: cmder.contextID,
				Header:    header,
				Logger:    log,
			}
			if !cmder.noRelay {
				opts.Relay = intercept.NewHTTPRelay(cmder.cfg.Client.APITarget, nil)
			}

			return cmder.run(ctx, opts)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().StringVarP(&cmder.contextID, "context", "c", "", "Browsing context to attribute the session to (defaults to proxy.default_context)")
	cmd.Flags().StringArrayVarP(&cmder.headers, "header", "H", nil, `Request header as "Name: value" (repeatable)`)
	cmd.Flags().BoolVar(&cmder.noRelay, "no-relay", false, "Print events without relaying them to the API server")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print each event as a JSON line")

	return cmd
}

func (c *tapCommander) run(ctx context.Context, opts intercept.Options) error {
	es, err := intercept.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer es.Close()

	if !c.asJSON {
		fmt.Fprintf(c.out, "%s %s %s\n",
			cliui.StepStyle.Render("Tapping"),
			cliui.ValueStyle.Render(opts.URL),
			cliui.IDStyle.Render(es.ID()),
		)
	}

	count := 0
	for ev := range es.Events() {
		count++
		if err := c.print(ev); err != nil {
			return err
		}
	}

	if err := es.Err(); err != nil {
		return fmt.Errorf("event stream %s: %w", opts.URL, err)
	}

	if !c.asJSON && ctx.Err() == nil {
		fmt.Fprintf(c.out, "%s Stream closed after %d events\n", cliui.SuccessMark, count)
	}
	return nil
}

func (c *tapCommander) print(ev capture.StreamEvent) error {
	if c.asJSON {
		return json.NewEncoder(c.out).Encode(ev)
	}

	line := fmt.Sprintf("  %s %s %s",
		cliui.DimStyle.Render(ev.ReceivedAt.Format("15:04:05.000")),
		cliui.EventStyle.Render(ev.EventName),
		cliui.ValueStyle.Render(cliui.Truncate(ev.Data, 100)),
	)
	if ev.ID != "" {
		line += " " + cliui.DimStyle.Render("id="+ev.ID)
	}
	fmt.Fprintln(c.out, line)
	return nil
}

// ParseHeaders turns "Name: value" pairs into a header.
func ParseHeaders(pairs []string) (http.Header, error) {
	header := http.Header{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: expected \"Name: value\"", p)
		}
		header.Add(name, strings.TrimSpace(value))
	}
	return header, nil
}
