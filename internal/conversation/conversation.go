// Package conversation holds the message list and typing state of one chat
// and drives a reply for every message the user sends.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Responder produces the bot's reply to a user message. Implementations
// report failures in the returned text.
type Responder interface {
	Route(ctx context.Context, message string) string
}

// Recorder receives every appended message, e.g. for a transcript archive.
type Recorder interface {
	Record(ctx context.Context, conversationID string, msg Message) error
}

// Listener observes state changes. It runs on the sending goroutine and
// must not call Send.
type Listener func(Event)

// Conversation is an append-only list of messages plus an "awaiting reply"
// flag. Sends are not serialized: concurrent sends proceed independently and
// their replies are appended in completion order.
type Conversation struct {
	id        string
	startedAt time.Time
	responder Responder
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time

	// emitMu orders recording and listener delivery to match the order of
	// state changes.
	emitMu sync.Mutex

	mu        sync.Mutex
	messages  []Message
	pending   int
	listeners map[int]Listener
	nextID    int
}

type Option func(*Conversation)

func WithRecorder(recorder Recorder) Option {
	return func(c *Conversation) {
		c.recorder = recorder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		c.logger = logger
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) {
		c.now = now
	}
}

// WithID sets the conversation id instead of a random UUID.
func WithID(id string) Option {
	return func(c *Conversation) {
		c.id = id
	}
}

// New creates an empty conversation answered by responder.
func New(responder Responder, opts ...Option) *Conversation {
	c := &Conversation{
		responder: responder,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("conversation_id", c.id)
	c.startedAt = c.now()
	return c
}

func (c *Conversation) ID() string {
	return c.id
}

func (c *Conversation) StartedAt() time.Time {
	return c.startedAt
}

// Messages returns a copy of the messages in append order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Typing reports whether any sent message is still awaiting its reply.
func (c *Conversation) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending > 0
}

// Subscribe registers l and returns a function that removes it.
func (c *Conversation) Subscribe(l Listener) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Send appends text as a user message, waits for the responder and appends
// its reply. The typing flag is cleared once the reply is in, whether the
// responder succeeded or not. The bot message is returned.
func (c *Conversation) Send(ctx context.Context, text string) Message {
	userMsg := Message{Sender: SenderUser, Text: text, Timestamp: c.now()}
	c.apply(ctx, userMsg, +1)

	c.logger.Info("dispatching message", "length", len(text))
	reply := c.respond(ctx, text)

	botMsg := Message{Sender: SenderBot, Text: reply, Timestamp: c.now()}
	c.apply(ctx, botMsg, -1)

	return botMsg
}

// respond shields the conversation from a misbehaving responder.
func (c *Conversation) respond(ctx context.Context, text string) (reply string) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("responder panicked", "error", p)
			reply = fmt.Sprintf("Sorry, I encountered an error: %v. Please try again.", p)
		}
	}()
	return c.responder.Route(ctx, text)
}

// apply records msg, appends it, adjusts the in-flight count by delta and
// notifies listeners of the message and of any typing transition. The
// recorder sees messages in append order, and before any listener does.
func (c *Conversation) apply(ctx context.Context, msg Message, delta int) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.record(ctx, msg)

	c.mu.Lock()
	wasTyping := c.pending > 0
	c.messages = append(c.messages, msg)
	c.pending += delta
	isTyping := c.pending > 0
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	events := []Event{{Kind: EventMessage, Message: msg}}
	if wasTyping != isTyping {
		events = append(events, Event{Kind: EventTyping, Typing: isTyping})
	}
	for _, l := range listeners {
		for _, ev := range events {
			l(ev)
		}
	}
}

func (c *Conversation) record(ctx context.Context, msg Message) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, c.id, msg); err != nil {
		c.logger.Warn("failed to record message", "sender", msg.Sender, "error", err)
	}
}
