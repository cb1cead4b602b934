package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"FhirChat/internal/chatbot"
)

const terminalChannel = "terminal"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat in the terminal",
	Long: `Start an interactive chat in the terminal.

Type a question such as "get conditions for patient 10006" or
"search patient name Karketi". Commands: /help, /history, /quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		conv := a.newConversation(ctx, terminalChannel)
		bot := chatbot.NewChatBot(conv, os.Stdin, cmd.OutOrStdout(), a.logger)
		if err := bot.Run(ctx); err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		return nil
	},
}
