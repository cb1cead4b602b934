package widget

import "FhirChat/internal/conversation"

// Frame types exchanged over /ws.
const (
	FrameToggle  = "toggle"  // client -> server
	FrameSend    = "send"    // client -> server
	FrameState   = "state"   // server -> client
	FrameMessage = "message" // server -> client
	FrameTyping  = "typing"  // server -> client
	FrameError   = "error"   // server -> client
)

// ClientFrame is a frame sent by the browser.
type ClientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ServerFrame is a frame pushed to the browser.
type ServerFrame struct {
	Type    string                `json:"type"`
	Open    *bool                 `json:"open,omitempty"`
	Message *conversation.Message `json:"message,omitempty"`
	Typing  *bool                 `json:"typing,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func stateFrame(open bool) ServerFrame {
	return ServerFrame{Type: FrameState, Open: &open}
}

func messageFrame(msg conversation.Message) ServerFrame {
	return ServerFrame{Type: FrameMessage, Message: &msg}
}

func typingFrame(typing bool) ServerFrame {
	return ServerFrame{Type: FrameTyping, Typing: &typing}
}

func errorFrame(msg string) ServerFrame {
	return ServerFrame{Type: FrameError, Error: msg}
}
