package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// MessageType names a frame in the subprocess RPC protocol: a single
// newline-delimited JSON object per line, exchanged over a plugin
// subprocess's stdin/stdout. This stands in for the original's in-process,
// dynamically-evaluated plugin module: a compiled daemon cannot load
// arbitrary plugin code into its own address space, so a plugin here is an
// external process speaking this small protocol instead.
type MessageType string

const (
	MsgAnnounce         MessageType = "announce"
	MsgLoad             MessageType = "load"
	MsgUnload           MessageType = "unload"
	MsgDispatchEvent    MessageType = "dispatch_event"
	MsgRegisterCommand  MessageType = "register_command"
	MsgRegisterListener MessageType = "register_listener"
	MsgRegisterHelp     MessageType = "register_help"
	MsgExportState      MessageType = "export_state"
	MsgCommandInvoke    MessageType = "command_invoke"
	MsgAck              MessageType = "ack"
	MsgError            MessageType = "error"
)

// Message is one RPC frame. ID correlates a request with its response; a
// request the daemon initiates carries an ID it expects echoed back.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AnnouncePayload is what a plugin subprocess sends immediately on
// startup, before the daemon considers it loaded.
type AnnouncePayload struct {
	Manifest RawManifest `json:"manifest"`
}

// ErrorPayload carries a failure reported by the plugin subprocess back to
// the daemon, e.g. a panic during its own load hook.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ListenerRegistration is the payload of a register_listener frame sent by
// the subprocess during the load handshake. A nil Priority means
// DefaultListenerPriority.
type ListenerRegistration struct {
	Event    string `json:"event"`
	Priority *int   `json:"priority,omitempty"`
}

// HelpRegistration is the payload of a register_help frame.
type HelpRegistration struct {
	Prefix  string `json:"prefix"`
	Message string `json:"message"`
}

// CommandInvokePayload is what the daemon sends to a subprocess when a
// command tree the subprocess registered reaches one of its terminal nodes:
// the root word identifying which of the plugin's commands fired, and every
// named argument value the dispatcher bound on the way down.
type CommandInvokePayload struct {
	Root      string         `json:"root"`
	IsConsole bool           `json:"is_console"`
	Values    map[string]any `json:"values"`
}

// Transport is a line-delimited JSON RPC channel to one plugin subprocess.
// It is safe for concurrent Send calls; ReadMessage must only be called
// from a single reader goroutine.
type Transport struct {
	writeMu sync.Mutex
	w       io.Writer
	scanner *bufio.Scanner
	nextID  int64
}

// NewTransport wraps a subprocess's stdout (r) and stdin (w) as an RPC
// channel.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Transport{w: w, scanner: scanner}
}

// Send marshals payload and writes a framed message, returning the request
// ID assigned. Every frame draws the next ID from the transport's counter,
// whether or not a response is expected; 0 is returned only on error.
func (t *Transport) Send(msgType MessageType, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal rpc payload: %w", err)
	}
	id := atomic.AddInt64(&t.nextID, 1)
	msg := Message{Type: msgType, ID: id, Payload: raw}
	line, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal rpc message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("write rpc message: %w", err)
	}
	return id, nil
}

// ReadMessage blocks for the next frame. It returns io.EOF when the
// subprocess closes its stdout, which the caller treats as an unexpected
// exit rather than a clean unload.
func (t *Transport) ReadMessage() (Message, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return Message{}, fmt.Errorf("read rpc message: %w", err)
		}
		return Message{}, io.EOF
	}
	var msg Message
	if err := json.Unmarshal(t.scanner.Bytes(), &msg); err != nil {
		return Message{}, fmt.Errorf("decode rpc message: %w", err)
	}
	return msg, nil
}
