package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentloop/internal/config"
	"github.com/user/agentloop/internal/state"
	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
)

var historyJSON bool

func init() {
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "print events as JSON")
	historyFilterCmd.Flags().BoolVar(&historyJSON, "json", false, "print events as JSON")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyFilterCmd, historyTokensCmd)
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored conversation histories",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		convs, err := state.NewConversationIndex(cfg.DataDir).List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(convs) == 0 {
			fmt.Fprintln(out, "No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKEY\tEVENTS\tUPDATED")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Key, c.Events, c.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id|key>",
	Short: "Print a conversation's events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printEvents(cmd.OutOrStdout(), events, historyJSON)
	},
}

var historyFilterCmd = &cobra.Command{
	Use:   "filter <id|key>",
	Short: "Print the history as sent to a model, without orphaned tool results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		filtered := history.FilterOrphanToolResults(events)
		if dropped := len(events) - len(filtered); dropped > 0 && !historyJSON {
			fmt.Fprintf(cmd.ErrOrStderr(), "Dropped %d orphaned tool result(s).\n", dropped)
		}
		return printEvents(cmd.OutOrStdout(), filtered, historyJSON)
	},
}

var historyTokensCmd = &cobra.Command{
	Use:   "tokens <id|key>",
	Short: "Estimate the token size of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		total, err := history.EstimateTotal(events)
		if err != nil {
			return fmt.Errorf("estimate tokens: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d events, ~%d tokens\n", len(events), total)
		return nil
	},
}

// loadHistory finds a conversation by id or by key and reads its events.
func loadHistory(ctx context.Context, ref string) ([]history.Event, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	convs, err := state.NewConversationIndex(cfg.DataDir).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var id types.ConversationID
	for _, c := range convs {
		if string(c.ID) == ref || string(c.Key) == ref {
			id = c.ID
			break
		}
	}
	if id == "" {
		return nil, fmt.Errorf("conversation not found: %s", ref)
	}

	var backend types.HistoryBackend
	if cfg.Storage == config.StorageSQLite {
		db, err := state.OpenSQLite(ctx, sqlitePath(cfg.DataDir))
		if err != nil {
			return nil, err
		}
		defer db.Close()
		backend = db
	} else {
		backend = state.NewFileStore(cfg.DataDir)
	}
	return backend.History(id).GetHistory(ctx)
}

func printEvents(w io.Writer, events []history.Event, asJSON bool) error {
	if asJSON {
		data, err := history.MarshalList(events)
		if err != nil {
			return fmt.Errorf("marshal history: %w", err)
		}
		var pretty any
		if err := json.Unmarshal(data, &pretty); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	}
	for _, e := range events {
		fmt.Fprintf(w, "%-26s %s\n", e.Type(), summarize(e))
	}
	return nil
}

func summarize(e history.Event) string {
	var s string
	switch ev := e.(type) {
	case history.ParticipantUtterance:
		s = ev.Name + ": " + ev.Text
	case history.OwnUtterance:
		s = ev.Text
	case history.ParticipantEditMessage:
		s = ev.Name + " edited " + ev.OnMessage + ": " + ev.Text
	case history.OwnEditMessage:
		s = "edited " + ev.OnMessage + ": " + ev.Text
	case history.ParticipantReaction:
		s = ev.Name + " reacted " + ev.Reaction + " to " + ev.OnMessage
	case history.OwnReaction:
		s = "reacted " + ev.Reaction + " to " + ev.OnMessage
	case history.ToolCall:
		s = ev.Name + string(ev.Parameters)
	case history.ToolResult:
		s = ev.Name + " -> " + ev.Result
	case history.OwnThought:
		s = ev.Text
	case history.DoNothing:
		s = "-"
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 120 {
		s = string(r[:117]) + "..."
	}
	return s
}
