package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"FhirChat/internal/conversation"
)

var errNoArchive = errors.New("transcript archive is disabled; set --transcript-db or FHIRCHAT_TRANSCRIPT_DB")

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Inspect archived conversations",
}

var transcriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.archive == nil {
			return errNoArchive
		}

		summaries, err := a.archive.Conversations(ctx, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(summaries) == 0 {
			fmt.Fprintln(out, "No conversations archived.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHANNEL\tSTARTED\tMESSAGES")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.Channel, s.StartedAt.Local().Format(time.DateTime), s.MessageCount)
		}
		return w.Flush()
	},
}

var transcriptsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the messages of an archived conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.archive == nil {
			return errNoArchive
		}

		msgs, err := a.archive.Messages(ctx, args[0])
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("conversation %s not found", args[0])
		}

		out := cmd.OutOrStdout()
		for _, m := range msgs {
			who := "You"
			if m.Sender == conversation.SenderBot {
				who = "Bot"
			}
			fmt.Fprintf(out, "[%s] %s: %s\n", m.Clock(), who, m.Text)
		}
		return nil
	},
}

func init() {
	transcriptsListCmd.Flags().Int("limit", 20, "maximum number of conversations to list")
	transcriptsCmd.AddCommand(transcriptsListCmd, transcriptsShowCmd)
}
