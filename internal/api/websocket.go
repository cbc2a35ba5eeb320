package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clashxw/clashxw-core/internal/engine"
	"github.com/clashxw/clashxw-core/internal/infrastructure/logging"
)

// Stream message types.
const (
	WSTypePing   = "ping"
	WSTypePong   = "pong"
	WSTypeEvent  = "event"
	WSTypeStatus = "status"
	WSTypeError  = "error"
)

// Event types carried in WSMessage.EventType.
const (
	ChannelEngineEvent  = "engine.event"
	ChannelEngineStatus = "engine.status"
)

const (
	// streamBufferSize is how many messages a slow subscriber may fall
	// behind before it starts missing events.
	streamBufferSize = 64

	streamMaxInbound   = 4096
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second

	// kindsParam selects event kinds, e.g. /ws?kinds=exited,launch_failed.
	kindsParam = "kinds"
)

// streamKinds are the event kinds a subscriber may select.
var streamKinds = map[engine.EventKind]bool{
	engine.EventStarted:      true,
	engine.EventStopped:      true,
	engine.EventExited:       true,
	engine.EventLaunchFailed: true,
}

// WSMessage is one frame on the event stream, in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// The API is bound to a local address and guarded by its token, so any
// origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// eventStream fans engine events out to WebSocket subscribers.
type eventStream struct {
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func newEventStream(logger *logging.Logger) *eventStream {
	return &eventStream{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// run disconnects every subscriber once ctx is cancelled.
func (es *eventStream) run(ctx context.Context) {
	<-ctx.Done()

	es.mu.Lock()
	subs := es.subs
	es.subs = make(map[*subscriber]struct{})
	es.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

func (es *eventStream) add(sub *subscriber) {
	es.mu.Lock()
	es.subs[sub] = struct{}{}
	n := len(es.subs)
	es.mu.Unlock()
	es.logger.Debug("event stream subscriber connected", "subscribers", n)
}

func (es *eventStream) remove(sub *subscriber) {
	es.mu.Lock()
	delete(es.subs, sub)
	n := len(es.subs)
	es.mu.Unlock()

	sub.close()
	if dropped := sub.dropped.Load(); dropped > 0 {
		es.logger.Warn("event stream subscriber missed events", "dropped", dropped)
	}
	es.logger.Debug("event stream subscriber disconnected", "subscribers", n)
}

// subscribers returns the number of connected clients.
func (es *eventStream) subscribers() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.subs)
}

// publish queues ev for every subscriber that selected its kind. It never
// blocks on a slow client.
func (es *eventStream) publish(ev engine.Event) {
	data, err := encodeMessage(WSMessage{
		Type:      WSTypeEvent,
		EventType: ChannelEngineEvent,
		Payload:   newEventPayload(ev),
	})
	if err != nil {
		es.logger.Error("encoding engine event", "kind", ev.Kind, "error", err)
		return
	}

	es.mu.RLock()
	defer es.mu.RUnlock()
	for sub := range es.subs {
		if sub.wants(ev.Kind) {
			sub.enqueue(data)
		}
	}
}

// subscriber is one WebSocket connection. kinds is nil when the client
// takes every event.
type subscriber struct {
	conn  *websocket.Conn
	kinds map[engine.EventKind]bool

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newSubscriber(conn *websocket.Conn, kinds map[engine.EventKind]bool) *subscriber {
	return &subscriber{
		conn:  conn,
		kinds: kinds,
		out:   make(chan []byte, streamBufferSize),
		done:  make(chan struct{}),
	}
}

func (sub *subscriber) wants(kind engine.EventKind) bool {
	return sub.kinds == nil || sub.kinds[kind]
}

// enqueue drops data when the buffer is full or the subscriber has gone.
func (sub *subscriber) enqueue(data []byte) {
	select {
	case <-sub.done:
		return
	default:
	}
	select {
	case sub.out <- data:
	default:
		sub.dropped.Add(1)
	}
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() {
		close(sub.done)
		if sub.conn != nil {
			sub.conn.Close() //nolint:errcheck // Unblocks the read loop
		}
	})
}

// writeLoop sends queued frames and keepalive pings until the subscriber
// closes or a write fails.
func (sub *subscriber) writeLoop() {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	defer sub.close()

	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.out:
			//nolint:errcheck // A failed deadline shows up as a write error
			sub.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // A failed deadline shows up as a write error
			sub.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection, sends the current engine status
// and then streams engine events. authMiddleware has already run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get(kindsParam))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(conn, kinds)
	// Queued before registration so it precedes every event.
	snapshot, err := encodeMessage(WSMessage{
		Type:      WSTypeStatus,
		EventType: ChannelEngineStatus,
		Payload:   s.controller.Status(),
	})
	if err == nil {
		sub.enqueue(snapshot)
	}
	s.stream.add(sub)

	go sub.writeLoop()
	go s.readLoop(sub)
}

// readLoop answers application pings until the connection fails. The
// stream is otherwise server to client only.
func (s *Server) readLoop(sub *subscriber) {
	defer s.stream.remove(sub)

	sub.conn.SetReadLimit(streamMaxInbound)
	idle := streamPingInterval + streamWriteTimeout
	//nolint:errcheck // A failed deadline shows up as a read error
	sub.conn.SetReadDeadline(time.Now().Add(idle))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // A failed deadline shows up as a read error
		sub.conn.SetReadDeadline(time.Now().Add(idle))

		reply, err := encodeMessage(replyTo(data))
		if err == nil {
			sub.enqueue(reply)
		}
	}
}

// replyTo builds the answer to one inbound frame.
func replyTo(data []byte) WSMessage {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WSMessage{Type: WSTypeError, Payload: map[string]string{"message": "invalid JSON message"}}
	}
	if msg.Type == WSTypePing {
		return WSMessage{Type: WSTypePong, ID: msg.ID}
	}
	return WSMessage{
		Type:    WSTypeError,
		ID:      msg.ID,
		Payload: map[string]string{"message": "unknown message type: " + msg.Type},
	}
}

// parseKinds parses the comma-separated kinds parameter. An empty value
// selects every kind and yields nil.
func parseKinds(raw string) (map[engine.EventKind]bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	kinds := make(map[engine.EventKind]bool)
	for _, part := range strings.Split(raw, ",") {
		kind := engine.EventKind(strings.TrimSpace(part))
		if !streamKinds[kind] {
			return nil, fmt.Errorf("unknown event kind %q", kind)
		}
		kinds[kind] = true
	}
	return kinds, nil
}

func encodeMessage(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
