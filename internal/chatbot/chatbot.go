package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"FhirChat/internal/conversation"
)

// ChatBot is the terminal front end: it reads lines, sends them through a
// conversation and prints the replies.
type ChatBot struct {
	conv   *conversation.Conversation
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	outMu sync.Mutex
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(conv *conversation.Conversation, in io.Reader, out io.Writer, logger *slog.Logger) *ChatBot {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatBot{
		conv:   conv,
		in:     in,
		out:    out,
		logger: logger,
	}
}

func (cb *ChatBot) printf(format string, args ...any) {
	cb.outMu.Lock()
	defer cb.outMu.Unlock()
	fmt.Fprintf(cb.out, format, args...)
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(cmd string) (quit bool, err error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/history":
		msgs := cb.conv.Messages()
		if len(msgs) == 0 {
			cb.printf("Start a conversation by sending a message!\n")
			return false, nil
		}
		for _, m := range msgs {
			who := "You"
			if m.Sender == conversation.SenderBot {
				who = "Bot"
			}
			cb.printf("[%s] %s: %s\n", m.Clock(), who, m.Text)
		}
		return false, nil

	case "/help":
		cb.printf("Available commands:\n")
		cb.printf("  /history     - Show the conversation so far\n")
		cb.printf("  /quit, /exit - Exit the chat\n")
		cb.printf("  /help        - Show this help message\n")
		cb.printf("Anything else is sent as a question, e.g. \"get conditions for patient 10006\".\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (type /help)", parts[0])
	}
}

// Run starts the chat loop and returns when input ends, the user quits or
// ctx is canceled.
func (cb *ChatBot) Run(ctx context.Context) error {
	cancel := cb.conv.Subscribe(func(ev conversation.Event) {
		if ev.Kind == conversation.EventTyping && ev.Typing {
			cb.printf("Bot is typing...\n")
		}
	})
	defer cancel()

	cb.printf("=== FHIR Chat ===\n")
	cb.printf("Conversation: %s\n", cb.conv.ID())
	cb.printf("Type /help for commands, /quit to exit\n\n")

	stop := make(chan struct{})
	defer close(stop)
	lines, readErr := cb.readLines(stop)

	for {
		if ctx.Err() != nil {
			cb.printf("\n")
			break
		}
		cb.printf("You: ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			cb.printf("\n")
		case line, ok = <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
			}
		}
		if !ok || ctx.Err() != nil {
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(input)
			if err != nil {
				cb.printf("Error: %v\n", err)
				cb.logger.Warn("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		reply := cb.conv.Send(ctx, input)
		cb.printf("Bot: %s\n\n", reply.Text)
	}

	cb.printf("Goodbye!\n")
	return nil
}

// readLines scans cb.in on its own goroutine so Run can stop on ctx while a
// read is blocked. The error channel receives once, after lines is closed.
func (cb *ChatBot) readLines(stop <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			errc <- err
			close(lines)
		}()
		scanner := bufio.NewScanner(cb.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		err = scanner.Err()
	}()
	return lines, errc
}
