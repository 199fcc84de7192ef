// Package transport is the client side of the room membership service: the
// request/response channel used to join and broadcast, and the push stream a
// session receives peer updates on.
package transport

type StreamEventKind string

const (
	// StreamOpen is emitted once the stream is established and able to deliver.
	StreamOpen StreamEventKind = "open"
	// StreamClient carries one room message body from a peer.
	StreamClient StreamEventKind = "client"
	// StreamError is terminal: no events follow it.
	StreamError StreamEventKind = "error"
)

type StreamEvent struct {
	Kind StreamEventKind
	Data []byte
	Err  error
}

// EventStream is a live inbound stream for one session. The events channel is
// closed when the stream stops, after Close or after a StreamError.
type EventStream interface {
	Events() <-chan StreamEvent
	Close() error
}

type StreamKind string

const (
	StreamKindSSE       StreamKind = "sse"
	StreamKindWebSocket StreamKind = "websocket"
)

func ParseStreamKind(s string) (StreamKind, bool) {
	switch StreamKind(s) {
	case StreamKindSSE, "":
		return StreamKindSSE, true
	case StreamKindWebSocket, "ws":
		return StreamKindWebSocket, true
	default:
		return "", false
	}
}
