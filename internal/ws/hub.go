package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/zoniahub/portal/internal/presence"
)

// Hub owns all live WebSocket connections. It routes inbound events to the
// presence service and implements presence.Gateway for outbound fanout.
type Hub struct {
	logger   zerolog.Logger
	presence *presence.Service
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a Hub. Bind must be called with the presence service before
// the hub accepts connections; the two reference each other.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens upstream; same-origin is enforced by the
			// portal's serving setup.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Bind attaches the presence service the hub feeds.
func (h *Hub) Bind(svc *presence.Service) {
	h.presence = svc
}

// ServeHTTP upgrades the request and runs the connection's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:     id,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: h.logger.With().Str("connection_id", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	h.presence.Register(id)

	c.logger.Info().Msg("connection established")
	go c.writePump()
	go c.readPump()
}

// drop unregisters a client after its read pump exits and tears down its
// presence state: room left first, connection record removed second.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if current, ok := h.clients[c.id]; !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.cancel()
	h.presence.Disconnect(c.id)
	c.logger.Info().Msg("connection closed")
}

// Send implements presence.Gateway: best-effort, at-most-once delivery to
// each named connection. Slow consumers are disconnected and self-heal by
// reconnecting; a missed event is recovered by the next periodic snapshot.
func (h *Hub) Send(connectionIDs []string, event string, payload interface{}) {
	data, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// dispatch routes one inbound frame. Malformed frames and unknown events are
// logged and ignored; the channel stays up.
func (h *Hub) dispatch(c *client, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("invalid message")
		return
	}

	switch msg.Event {
	case EventAuthenticate:
		var payload AuthPayload
		if err := unmarshalPayload(msg.Payload, &payload); err != nil {
			c.logger.Warn().Err(err).Msg("invalid authenticate payload")
			return
		}
		h.presence.Authenticate(c.id, payload.Username, payload.DisplayName)

	case EventJoinWorkflow:
		payload, err := ParseJoinPayload(msg.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("invalid join payload")
			return
		}
		if err := h.presence.Join(c.ctx, c.id, payload.WorkflowID, payload.WorkflowName); err != nil {
			if errors.Is(err, presence.ErrWorkflowRequired) {
				c.logger.Warn().Msg("join rejected: empty workflow id")
			}
			return
		}

	case EventHeartbeat:
		workflowID, err := ParseWorkflowID(msg.Payload)
		if err != nil {
			return
		}
		h.presence.RecordHeartbeat(c.id, workflowID)

	case EventSaveNotification:
		workflowID, err := ParseWorkflowID(msg.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("invalid save notification")
			return
		}
		h.presence.RecordClaim(c.id, workflowID)

	case EventGetActiveUsers:
		workflowID, err := ParseWorkflowID(msg.Payload)
		if err != nil {
			return
		}
		h.reply(c, EventActiveUsers, h.presence.Snapshot(workflowID))

	case EventGetAllWorkflows:
		h.reply(c, EventAllWorkflows, h.presence.AllSnapshots())

	default:
		c.logger.Warn().Str("event", msg.Event).Msg("unhandled event")
	}
}

func (h *Hub) reply(c *client, event string, payload interface{}) {
	data, err := NewMessage(event, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("failed to encode reply")
		return
	}
	c.enqueue(data)
}

func unmarshalPayload(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(raw, v)
}
