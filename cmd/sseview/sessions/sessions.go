// Package sessionscmder provides the sessions command for inspecting captured
// sessions held by a running sseview API server.
package sessionscmder

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/cliui"
	"github.com/papercomputeco/sseview/pkg/config"
)

const sessionsLongDesc string = `Inspect captured sessions via the sseview API.

Requires a running sseview API server (sseview serve or sseview serve api).

Use subcommands to list, show, or clear sessions:
  sseview sessions list              List sessions of every browsing context
  sseview sessions show <id>         Show one session with all its events
  sseview sessions clear             Clear sessions of one browsing context
  sseview sessions contexts          List browsing contexts that checked in

Examples:
  sseview sessions list --context tab-1
  sseview sessions show sse-req-7f0c... --json
  sseview sessions show sse-req-7f0c... --filter delta
  sseview sessions clear --context '*'`

const sessionsShortDesc string = "Inspect captured sessions"

type sessionsCommander struct {
	apiTarget string
	contextID string
	out       io.Writer
}

func NewSessionsCmd() *cobra.Command {
	cmder := &sessionsCommander{}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: sessionsShortDesc,
		Long:  sessionsLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(cmd, config.FlagAPITarget)
			if err != nil {
				return err
			}
			cmder.apiTarget = cfg.Client.APITarget
			cmder.out = cmd.OutOrStdout()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cmder.apiTarget, "api-target", config.NewDefaultConfig().Client.APITarget, config.Flags[config.FlagAPITarget].Description)
	cmd.PersistentFlags().StringVarP(&cmder.contextID, "context", "c", "*", "Browsing context to act on (* for every context)")

	cmd.AddCommand(cmder.newListCmd())
	cmd.AddCommand(cmder.newShowCmd())
	cmd.AddCommand(cmder.newClearCmd())
	cmd.AddCommand(cmder.newContextsCmd())

	return cmd
}

func (c *sessionsCommander) client() *Client {
	return NewClient(c.apiTarget, nil)
}

func (c *sessionsCommander) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List captured sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := c.client().ListSessions(cmd.Context(), c.contextID)
			if err != nil {
				return err
			}
			printSessionList(c.out, c.contextID, sessions)
			return nil
		},
	}
}

func (c *sessionsCommander) newShowCmd() *cobra.Command {
	var (
		asJSON bool
		opts   MarkdownOptions
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := c.client().GetSession(cmd.Context(), c.contextID, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				if opts.Filter != "" {
					session.Events = session.FilterEvents(opts.Filter)
				}
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(session)
			}

			rendered, err := cliui.RenderMarkdown(SessionMarkdown(session, opts))
			if err != nil {
				return fmt.Errorf("rendering session: %w", err)
			}
			fmt.Fprint(c.out, rendered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")
	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", "", "Only show events containing this text (case-insensitive)")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "Show event data as received, without JSON formatting")
	return cmd
}

func (c *sessionsCommander) newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the sessions of a browsing context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg := "Clearing sessions of " + cliui.KeyStyle.Render(c.contextID)
			return cliui.Step(c.out, msg, func() error {
				return c.client().ClearSessions(cmd.Context(), c.contextID)
			})
		},
	}
}

func (c *sessionsCommander) newContextsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contexts",
		Short: "List browsing contexts that announced themselves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.client().LoadedContexts(cmd.Context())
			if err != nil {
				return err
			}
			if len(resp.Contexts) == 0 {
				fmt.Fprintln(c.out, "No browsing contexts have checked in.")
				return nil
			}
			for _, lc := range resp.Contexts {
				fmt.Fprintf(c.out, "  %s  %s  %s\n",
					cliui.KeyStyle.Render(lc.ContextID),
					cliui.ValueStyle.Render(lc.URL),
					cliui.DimStyle.Render(lc.LoadedAt.Format(time.RFC3339)),
				)
			}
			return nil
		},
	}
}

// SortedSessions orders sessions by start time, then id.
func SortedSessions(sessions map[string]*capture.Session) []*capture.Session {
	out := slices.Collect(maps.Values(sessions))
	slices.SortFunc(out, func(a, b *capture.Session) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func printSessionList(w io.Writer, contextID string, sessions map[string]*capture.Session) {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions captured for %s.\n", contextID)
		return
	}

	fmt.Fprintf(w, "\n%s %s\n\n",
		cliui.HeaderStyle.Render("Sessions for"),
		cliui.KeyStyle.Render(contextID),
	)

	for _, s := range SortedSessions(sessions) {
		fmt.Fprintf(w, "  %s  %s %s\n",
			cliui.IDStyle.Render(s.ID),
			cliui.HeaderStyle.Render(s.Method),
			cliui.ValueStyle.Render(s.URL),
		)
		fmt.Fprintf(w, "  %s\n",
			cliui.DimStyle.Render(fmt.Sprintf("%s  context %s  %d events",
				s.StartedAt.Format(time.RFC3339), s.ContextID, len(s.Events))),
		)
	}
	fmt.Fprintln(w)
}

// MarkdownOptions controls how SessionMarkdown renders events.
type MarkdownOptions struct {
	// Filter keeps only matching events, see capture.Session.FilterEvents.
	Filter string

	// Raw disables pretty-printing of JSON event data.
	Raw bool
}

// SessionMarkdown renders a session as a markdown document. Events whose data
// is a JSON object or array get a formatted block after the event table.
func SessionMarkdown(s *capture.Session, opts MarkdownOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s %s\n\n", s.Method, s.URL)
	fmt.Fprintf(&b, "- **Session:** `%s`\n", s.ID)
	fmt.Fprintf(&b, "- **Context:** `%s`\n", s.ContextID)
	fmt.Fprintf(&b, "- **Started:** %s\n\n", s.StartedAt.Format(time.RFC3339Nano))

	if len(s.QueryParams) > 0 {
		b.WriteString("## Query params\n\n| Name | Value |\n| --- | --- |\n")
		for _, k := range slices.Sorted(maps.Keys(s.QueryParams)) {
			fmt.Fprintf(&b, "| %s | %s |\n", cell(k), cell(s.QueryParams[k]))
		}
		b.WriteString("\n")
	}

	if !s.BodyParams.IsZero() {
		body, err := json.MarshalIndent(s.BodyParams, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "## Body params\n\n```json\n%s\n```\n\n", body)
		}
	}

	if len(s.Events) == 0 {
		b.WriteString("## Events (0)\n\n_No events yet._\n")
		return b.String()
	}

	shown := s.MatchingEvents(opts.Filter)

	if opts.Filter == "" {
		fmt.Fprintf(&b, "## Events (%d)\n\n", len(s.Events))
	} else {
		fmt.Fprintf(&b, "## Events (%d of %d matching `%s`)\n\n", len(shown), len(s.Events), opts.Filter)
		if len(shown) == 0 {
			b.WriteString("_No events match the filter._\n")
			return b.String()
		}
	}

	b.WriteString("| # | Received | Event | ID | Data |\n| --- | --- | --- | --- | --- |\n")
	for _, i := range shown {
		ev := s.Events[i]
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			i+1,
			ev.ReceivedAt.Format("15:04:05.000"),
			cell(eventName(ev)),
			cell(ev.ID),
			cell(cliui.Truncate(ev.Data, 120)),
		)
	}

	if opts.Raw {
		return b.String()
	}
	for _, i := range shown {
		pretty, ok := cliui.PrettyJSON(s.Events[i].Data)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n### #%d %s\n\n```json\n%s\n```\n", i+1, eventName(s.Events[i]), pretty)
	}
	return b.String()
}

func eventName(ev capture.StreamEvent) string {
	if ev.EventName == "" {
		return "message"
	}
	return ev.EventName
}

// cell escapes a value for a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
