package widget

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"FhirChat/internal/conversation"
)

type replyWith string

func (r replyWith) Route(_ context.Context, message string) string {
	return string(r) + message
}

type fakeArchive struct {
	mu       sync.Mutex
	begun    []string
	channels []string
	recorded []conversation.Message
}

func (f *fakeArchive) Begin(_ context.Context, id, channel string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, id)
	f.channels = append(f.channels, channel)
	return nil
}

func (f *fakeArchive) Record(_ context.Context, _ string, msg conversation.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, msg)
	return nil
}

func (f *fakeArchive) snapshot() ([]string, []string, []conversation.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.begun...), append([]string(nil), f.channels...), append([]conversation.Message(nil), f.recorded...)
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	srv := httptest.NewServer(NewServer(replyWith("re: "), opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f ServerFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	require.Contains(t, string(body), "Chat Support")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_ToggleAndSend(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	f := readFrame(t, conn)
	require.Equal(t, FrameState, f.Type)
	require.False(t, *f.Open, "widget starts closed")

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Text: "condition"}))
	f = readFrame(t, conn)
	require.Equal(t, FrameError, f.Type)
	require.Contains(t, f.Error, "closed")

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameToggle}))
	f = readFrame(t, conn)
	require.Equal(t, FrameState, f.Type)
	require.True(t, *f.Open)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Text: "condition"}))

	f = readFrame(t, conn)
	require.Equal(t, FrameMessage, f.Type)
	require.Equal(t, conversation.SenderUser, f.Message.Sender)
	require.Equal(t, "condition", f.Message.Text)

	f = readFrame(t, conn)
	require.Equal(t, FrameTyping, f.Type)
	require.True(t, *f.Typing)

	f = readFrame(t, conn)
	require.Equal(t, FrameMessage, f.Type)
	require.Equal(t, conversation.SenderBot, f.Message.Sender)
	require.Equal(t, "re: condition", f.Message.Text)

	f = readFrame(t, conn)
	require.Equal(t, FrameTyping, f.Type)
	require.False(t, *f.Typing)
}

func TestWebSocket_ConversationSurvivesToggle(t *testing.T) {
	archive := &fakeArchive{}
	srv := newTestServer(t, WithArchive(archive))
	conn := dial(t, srv)
	readFrame(t, conn) // initial state

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameToggle}))
	readFrame(t, conn)
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Text: "one"}))
	for i := 0; i < 4; i++ {
		readFrame(t, conn)
	}

	// close and reopen, then send again on the same connection
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameToggle}))
	require.False(t, *readFrame(t, conn).Open)
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameToggle}))
	require.True(t, *readFrame(t, conn).Open)
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Text: "two"}))
	for i := 0; i < 4; i++ {
		readFrame(t, conn)
	}

	begun, channels, recorded := archive.snapshot()
	require.Len(t, begun, 1, "one conversation per connection")
	require.Equal(t, []string{Channel}, channels)
	require.Len(t, recorded, 4)
	require.Equal(t, "one", recorded[0].Text)
	require.Equal(t, "re: two", recorded[3].Text)
}

func TestWebSocket_BadFrames(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	require.Equal(t, FrameError, f.Type)
	require.Equal(t, "malformed frame", f.Error)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "dance"}))
	f = readFrame(t, conn)
	require.Equal(t, FrameError, f.Type)
	require.Contains(t, f.Error, "dance")
}

func TestWebSocket_SeparateConnectionsSeparateConversations(t *testing.T) {
	archive := &fakeArchive{}
	srv := newTestServer(t, WithArchive(archive))
	a := dial(t, srv)
	b := dial(t, srv)
	readFrame(t, a)
	readFrame(t, b)

	begun, _, _ := archive.snapshot()
	require.Len(t, begun, 2)
	require.NotEqual(t, begun[0], begun[1])
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := NewServer(replyWith(""), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// stallOnce signals entered and then holds the reply for delay.
type stallOnce struct {
	entered chan struct{}
	delay   time.Duration
}

func (s stallOnce) Route(_ context.Context, message string) string {
	close(s.entered)
	time.Sleep(s.delay)
	return "re: " + message
}

func TestServe_ShutdownClosesConnectionsAndWaitsForReplies(t *testing.T) {
	archive := &fakeArchive{}
	responder := stallOnce{entered: make(chan struct{}), delay: 200 * time.Millisecond}
	s := NewServer(responder, WithArchive(archive), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame(t, conn)
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameToggle}))
	readFrame(t, conn)
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Text: "condition"}))
	<-responder.entered

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, _, recorded := archive.snapshot()
	require.Len(t, recorded, 2, "the pending reply is archived before Serve returns")
	require.Equal(t, "re: condition", recorded[1].Text)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
