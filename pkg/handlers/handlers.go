// Package handlers bridges WebSocket connections to the room registry: it
// owns the connection pumps and translates wire events into registry
// commands and command results back into wire events.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jerukian123/collab-editor-monaco/pkg/document"
	"github.com/jerukian123/collab-editor-monaco/pkg/metrics"
	"github.com/jerukian123/collab-editor-monaco/pkg/ot"
	"github.com/jerukian123/collab-editor-monaco/pkg/protocol"
	"github.com/jerukian123/collab-editor-monaco/pkg/room"
)

// Handlers contains the WebSocket handler and its event dispatch.
type Handlers struct {
	registry *room.Registry
}

// NewHandlers creates a new handlers instance
func NewHandlers(registry *room.Registry) *Handlers {
	return &Handlers{registry: registry}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// HandleWebSocket upgrades the connection and runs the client session.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &room.Client{
		SocketID: uuid.New().String(),
		Conn:     conn,
		Send:     make(chan []byte, 256),
	}
	metrics.ConnectedClients.Inc()

	go h.writePump(client)
	go h.readPump(client)
}

// readPump reads frames from the socket and dispatches them until the
// connection drops; it then detaches the client from its room.
func (h *Handlers) readPump(c *room.Client) {
	defer func() {
		h.registry.Disconnect(c.SocketID)
		c.Conn.Close()
		metrics.ConnectedClients.Dec()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(timeNow().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(timeNow().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("socket", c.SocketID).Warn("websocket closed unexpectedly")
			}
			return
		}

		var event protocol.Event
		if err := json.Unmarshal(message, &event); err != nil {
			log.WithError(err).WithField("socket", c.SocketID).Warn("malformed frame")
			continue
		}
		h.dispatch(c, event)
	}
}

func (h *Handlers) dispatch(c *room.Client, event protocol.Event) {
	switch event.Type {
	case protocol.EventCreateRoom:
		h.handleCreateRoom(c, event.Payload)
	case protocol.EventJoinRoom:
		h.handleJoinRoom(c, event.Payload)
	case protocol.EventAddEditor:
		h.handleAddEditor(c, event.Payload)
	case protocol.EventRemoveEditor:
		h.handleRemoveEditor(c, event.Payload)
	case protocol.EventJoinEditor:
		h.handleJoinEditor(c, event.Payload)
	case protocol.EventLeaveEditor:
		h.handleLeaveEditor(c, event.Payload)
	case protocol.EventSendOperation:
		h.handleSendOperation(c, event.Payload)
	case protocol.EventRequestSync:
		h.handleRequestSync(c, event.Payload)
	case protocol.EventKickUser:
		h.handleKickUser(c, event.Payload)
	case protocol.EventCloseRoom:
		h.handleCloseRoom(c)
	default:
		log.WithFields(log.Fields{"socket": c.SocketID, "type": event.Type}).Debug("ignoring unknown event")
	}
}

func (h *Handlers) handleCreateRoom(c *room.Client, payload json.RawMessage) {
	var p protocol.CreateRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendRoomError(c, "malformed create_room payload")
		return
	}
	c.Username = p.Username
	c.Color = p.Color

	r := h.registry.CreateRoom(c)
	c.TrySend(protocol.Marshal(protocol.EventRoomCreated, protocol.RoomStatePayload{
		RoomCode: r.Code,
		Editors:  r.Editors(),
		Users:    r.Users(),
		IsHost:   true,
	}))
}

func (h *Handlers) handleJoinRoom(c *room.Client, payload json.RawMessage) {
	var p protocol.JoinRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendRoomError(c, "malformed join_room payload")
		return
	}
	c.Username = p.Username
	c.Color = p.Color

	r, err := h.registry.JoinRoom(c, p.RoomCode)
	if err != nil {
		h.sendRoomError(c, "room not found")
		return
	}
	c.TrySend(protocol.Marshal(protocol.EventRoomJoined, protocol.RoomStatePayload{
		RoomCode: r.Code,
		Editors:  r.Editors(),
		Users:    r.Users(),
		IsHost:   r.IsHost(c.SocketID),
	}))
}

func (h *Handlers) handleAddEditor(c *room.Client, payload json.RawMessage) {
	var p protocol.AddEditorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendRoomError(c, "malformed add_editor payload")
		return
	}
	if _, err := h.registry.AddEditor(c.SocketID, p.Name, p.Language); err != nil {
		h.sendRoomError(c, err.Error())
	}
}

func (h *Handlers) handleRemoveEditor(c *room.Client, payload json.RawMessage) {
	var p protocol.EditorRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendRoomError(c, "malformed remove_editor payload")
		return
	}
	if err := h.registry.RemoveEditor(c.SocketID, p.EditorID); err != nil {
		// Removing the last editor is a quiet no-op toward the room; only
		// the caller hears about it.
		h.sendRoomError(c, err.Error())
	}
}

func (h *Handlers) handleJoinEditor(c *room.Client, payload json.RawMessage) {
	var p protocol.EditorRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendSyncError(c, "malformed join_editor payload")
		return
	}
	r, err := h.registry.RoomFor(c.SocketID)
	if err != nil {
		h.sendRoomError(c, "not in a room")
		return
	}
	content, revision, err := r.Subscribe(p.EditorID, c)
	if err != nil {
		h.sendSyncError(c, "editor not found")
		return
	}
	c.TrySend(protocol.Marshal(protocol.EventEditorSynced, protocol.EditorSyncedPayload{
		EditorID: p.EditorID,
		Content:  content,
		Revision: revision,
	}))
}

func (h *Handlers) handleLeaveEditor(c *room.Client, payload json.RawMessage) {
	var p protocol.EditorRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	r, err := h.registry.RoomFor(c.SocketID)
	if err != nil {
		h.sendRoomError(c, "not in a room")
		return
	}
	_ = r.Unsubscribe(p.EditorID, c.SocketID)
}

func (h *Handlers) handleSendOperation(c *room.Client, payload json.RawMessage) {
	var p protocol.SendOperationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendOperationError(c, "malformed send_operation payload")
		return
	}
	r, err := h.registry.RoomFor(c.SocketID)
	if err != nil {
		h.sendRoomError(c, "not in a room")
		return
	}

	_, _, err = r.Ingest(p.EditorID, c, p.Operation, p.BaseRevision)
	if err == nil {
		return // the ack reaches the author through the topic broadcast
	}

	metrics.OperationErrors.Inc()
	switch {
	case errors.Is(err, document.ErrRevisionTooOld):
		// Forced resync instead of an error the client must interpret.
		h.pushSnapshot(c, r, p.EditorID)
	case errors.Is(err, document.ErrFutureRevision),
		errors.Is(err, ot.ErrInvalidOperation),
		errors.Is(err, ot.ErrIncompatibleOperations):
		h.sendOperationError(c, err.Error())
	case errors.Is(err, room.ErrEditorNotFound):
		h.sendOperationError(c, "editor not found")
	default:
		log.WithError(err).WithField("socket", c.SocketID).Error("operation failed")
		h.sendOperationError(c, "internal error")
	}
}

func (h *Handlers) handleRequestSync(c *room.Client, payload json.RawMessage) {
	var p protocol.EditorRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendSyncError(c, "malformed request_sync payload")
		return
	}
	r, err := h.registry.RoomFor(c.SocketID)
	if err != nil {
		h.sendRoomError(c, "not in a room")
		return
	}
	h.pushSnapshot(c, r, p.EditorID)
}

func (h *Handlers) handleKickUser(c *room.Client, payload json.RawMessage) {
	var p protocol.KickUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendRoomError(c, "malformed kick_user payload")
		return
	}
	if err := h.registry.KickUser(c.SocketID, p.TargetSocketID); err != nil {
		h.sendRoomError(c, err.Error())
	}
}

func (h *Handlers) handleCloseRoom(c *room.Client) {
	if err := h.registry.CloseRoom(c.SocketID); err != nil {
		h.sendRoomError(c, err.Error())
	}
}

func (h *Handlers) pushSnapshot(c *room.Client, r *room.Room, editorID int) {
	content, revision, err := r.SnapshotEditor(editorID)
	if err != nil {
		h.sendSyncError(c, "editor not found")
		return
	}
	c.TrySend(protocol.Marshal(protocol.EventEditorSynced, protocol.EditorSyncedPayload{
		EditorID: editorID,
		Content:  content,
		Revision: revision,
	}))
}

func (h *Handlers) sendRoomError(c *room.Client, message string) {
	c.TrySend(protocol.Marshal(protocol.EventRoomError, protocol.ErrorPayload{Message: message}))
}

func (h *Handlers) sendOperationError(c *room.Client, message string) {
	c.TrySend(protocol.Marshal(protocol.EventOperationError, protocol.ErrorPayload{Message: message}))
}

func (h *Handlers) sendSyncError(c *room.Client, message string) {
	c.TrySend(protocol.Marshal(protocol.EventSyncError, protocol.ErrorPayload{Message: message}))
}
