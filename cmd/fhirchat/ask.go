package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const cliChannel = "cli"

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Answer a single message and exit",
	Example: `  fhirchat ask "get conditions for patient 10006"
  fhirchat ask search patient name Karketi`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		conv := a.newConversation(ctx, cliChannel)
		reply := conv.Send(ctx, strings.Join(args, " "))
		fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
		return nil
	},
}
