package chatbot

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"FhirChat/internal/conversation"
)

type staticResponder map[string]string

func (s staticResponder) Route(_ context.Context, message string) string {
	if r, ok := s[message]; ok {
		return r
	}
	return "help"
}

func runBot(t *testing.T, input string, responder conversation.Responder) (string, *conversation.Conversation) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conv := conversation.New(responder, conversation.WithLogger(logger))
	var out bytes.Buffer
	bot := NewChatBot(conv, strings.NewReader(input), &out, logger)
	require.NoError(t, bot.Run(context.Background()))
	return out.String(), conv
}

func TestRun_SendsLinesAndPrintsReplies(t *testing.T) {
	out, conv := runBot(t, "condition\n\n   \nencounter\n", staticResponder{
		"condition": "No conditions found for patient 10006.",
		"encounter": "No encounters found for patient 10006.",
	})

	require.Contains(t, out, "Bot: No conditions found for patient 10006.")
	require.Contains(t, out, "Bot: No encounters found for patient 10006.")
	require.Equal(t, 2, strings.Count(out, "Bot is typing..."))
	require.True(t, strings.HasSuffix(out, "Goodbye!\n"))
	require.Len(t, conv.Messages(), 4, "blank lines are not sent")
}

func TestRun_QuitStopsReading(t *testing.T) {
	out, conv := runBot(t, "/quit\ncondition\n", staticResponder{})
	require.Empty(t, conv.Messages())
	require.Contains(t, out, "Goodbye!")
}

func TestRun_History(t *testing.T) {
	out, _ := runBot(t, "/history\nlab\n/history\n", staticResponder{"lab": "No observations found for patient 10011."})
	require.Contains(t, out, "Start a conversation by sending a message!")
	require.Regexp(t, `\[\d\d:\d\d\] You: lab`, out)
	require.Regexp(t, `\[\d\d:\d\d\] Bot: No observations found for patient 10011\.`, out)
}

func TestRun_UnknownCommand(t *testing.T) {
	out, conv := runBot(t, "/frobnicate\n", staticResponder{})
	require.Contains(t, out, "Error: unknown command: /frobnicate")
	require.Empty(t, conv.Messages())
}

func TestRun_Help(t *testing.T) {
	out, _ := runBot(t, "/help\n", staticResponder{})
	require.Contains(t, out, "/history")
	require.Contains(t, out, "/quit, /exit")
}

func TestRun_CanceledContextSendsNothing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conv := conversation.New(staticResponder{}, conversation.WithLogger(logger))
	var out bytes.Buffer
	bot := NewChatBot(conv, strings.NewReader("condition\nencounter\n"), &out, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, bot.Run(ctx))
	require.Empty(t, conv.Messages())
	require.NotContains(t, out.String(), "Bot:")
	require.True(t, strings.HasSuffix(out.String(), "Goodbye!\n"))
}

func TestRun_CancelWhileWaitingForInput(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conv := conversation.New(staticResponder{}, conversation.WithLogger(logger))
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	var out bytes.Buffer
	bot := NewChatBot(conv, pr, &out, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Empty(t, conv.Messages())
}
