// Package watchcmder provides the watch command, a live observer of captured
// sessions and events.
package watchcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	sessionscmder "github.com/papercomputeco/sseview/cmd/sseview/sessions"
	"github.com/papercomputeco/sseview/pkg/cliui"
	"github.com/papercomputeco/sseview/pkg/config"
	"github.com/papercomputeco/sseview/pkg/protocol"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

type watchCommander struct {
	apiTarget string
	contextID string
	filter    string
	asJSON    bool
	raw       bool
	out       io.Writer

	// urls maps session ids seen so far to their URL, for filtering.
	urls map[string]string
}

const watchLongDesc string = `Follow captured sessions and events as they arrive.

Connects to the observer websocket of a running sseview API server, prints the
current sessions of the browsing context, then every new session and event.

--filter keeps only events whose data, event name or id contains the text,
ignoring case, plus every event of a session whose URL contains it. Event data
that is a JSON object or array is pretty-printed unless --raw is given.

Examples:
  sseview watch
  sseview watch --context tab-1 --filter delta
  sseview watch --json | jq .`

const watchShortDesc string = "Follow captured sessions live"

func NewWatchCmd() *cobra.Command {
	cmder := &watchCommander{urls: make(map[string]string)}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: watchShortDesc,
		Long:  watchLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(cmd, config.FlagAPITarget)
			if err != nil {
				return err
			}
			cmder.apiTarget = cfg.Client.APITarget
			cmder.out = cmd.OutOrStdout()
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return Watch(ctx, cmder.apiTarget, cmder.contextID, cmder.print)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().StringVarP(&cmder.contextID, "context", "c", "*", "Browsing context to follow (* for every context)")
	cmd.Flags().StringVarP(&cmder.filter, "filter", "f", "", "Only show events containing this text (case-insensitive)")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print each notification as a JSON line")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print event data as received, without JSON formatting")

	return cmd
}

// Watch observes contextID on the API server at apiTarget, calling handle for
// the initial snapshot and every notification after it. It returns nil when
// ctx is done, or the first error from the connection or from handle.
func Watch(ctx context.Context, apiTarget, contextID string, handle func(protocol.Notification) error) error {
	wsURL, err := ObserveURL(apiTarget, contextID)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to sseview API at %s: %w", apiTarget, err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(protocol.Request{Action: protocol.ActionGetSessions}); err != nil {
		return fmt.Errorf("requesting sessions: %w", err)
	}

	for {
		var n protocol.Notification
		if err := conn.ReadJSON(&n); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading notification: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := handle(n); err != nil {
			return err
		}
	}
}

// ObserveURL derives the observer websocket URL from an API target.
func ObserveURL(apiTarget, contextID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiTarget, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid API target URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid API target URL %q: unsupported scheme", apiTarget)
	}

	u.Path += "/v1/contexts/" + contextID + "/observe"
	u.RawPath = ""
	return u.String(), nil
}

func (c *watchCommander) print(n protocol.Notification) error {
	c.remember(n)
	if !c.keep(n) {
		return nil
	}

	if c.asJSON {
		return json.NewEncoder(c.out).Encode(n)
	}

	switch n.Action {
	case protocol.ActionAllSessions:
		fmt.Fprintf(c.out, "%s %s\n",
			cliui.HeaderStyle.Render(fmt.Sprintf("%d sessions in", len(n.Sessions))),
			cliui.KeyStyle.Render(n.ContextID),
		)
		for _, s := range sessionscmder.SortedSessions(n.Sessions) {
			count := fmt.Sprintf("%d events", len(s.Events))
			if c.filter != "" {
				count = fmt.Sprintf("%d of %d events match", len(s.FilterEvents(c.filter)), len(s.Events))
			}
			fmt.Fprintf(c.out, "  %s  %s %s  %s\n",
				cliui.IDStyle.Render(s.ID),
				cliui.HeaderStyle.Render(s.Method),
				cliui.ValueStyle.Render(s.URL),
				cliui.DimStyle.Render(count),
			)
		}

	case protocol.ActionNewSession:
		if n.Session == nil {
			return nil
		}
		fmt.Fprintf(c.out, "%s %s  %s %s  %s\n",
			cliui.SuccessMark,
			cliui.IDStyle.Render(n.SessionID),
			cliui.HeaderStyle.Render(n.Session.Method),
			cliui.ValueStyle.Render(n.Session.URL),
			cliui.DimStyle.Render(n.ContextID),
		)

	case protocol.ActionNewEvent:
		if n.Event == nil {
			return nil
		}
		name := n.Event.EventName
		if name == "" {
			name = "message"
		}
		line := fmt.Sprintf("  %s %s %s",
			cliui.DimStyle.Render(n.Event.ReceivedAt.Format("15:04:05.000")),
			cliui.IDStyle.Render(n.SessionID),
			cliui.EventStyle.Render(name),
		)

		if pretty, ok := cliui.PrettyJSON(n.Event.Data); ok && !c.raw {
			fmt.Fprintln(c.out, line)
			for _, l := range strings.Split(pretty, "\n") {
				fmt.Fprintf(c.out, "      %s\n", cliui.ValueStyle.Render(l))
			}
			return nil
		}
		fmt.Fprintf(c.out, "%s %s\n", line, cliui.ValueStyle.Render(cliui.Truncate(n.Event.Data, 100)))

	case protocol.ActionError:
		fmt.Fprintf(c.out, "%s %s\n", cliui.FailMark, n.Error)
	}

	return nil
}

// remember records session URLs so that later events can be filtered by them.
func (c *watchCommander) remember(n protocol.Notification) {
	if c.urls == nil {
		c.urls = make(map[string]string)
	}
	switch n.Action {
	case protocol.ActionAllSessions:
		for id, s := range n.Sessions {
			c.urls[id] = s.URL
		}
	case protocol.ActionNewSession:
		if n.Session != nil {
			c.urls[n.SessionID] = n.Session.URL
		}
	}
}

// keep reports whether n passes the event filter. Only event notifications
// are ever filtered out.
func (c *watchCommander) keep(n protocol.Notification) bool {
	if c.filter == "" || n.Action != protocol.ActionNewEvent || n.Event == nil {
		return true
	}
	if strings.Contains(strings.ToLower(c.urls[n.SessionID]), strings.ToLower(strings.TrimSpace(c.filter))) {
		return true
	}
	return n.Event.Matches(c.filter)
}
