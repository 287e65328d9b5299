// Package protocol defines the wire events exchanged with editor clients.
// Every frame is {"type": "<event>", "payload": {...}}.
package protocol

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/jerukian123/collab-editor-monaco/pkg/ot"
)

// Client → server event names.
const (
	EventCreateRoom    = "create_room"
	EventJoinRoom      = "join_room"
	EventAddEditor     = "add_editor"
	EventRemoveEditor  = "remove_editor"
	EventJoinEditor    = "join_editor"
	EventLeaveEditor   = "leave_editor"
	EventSendOperation = "send_operation"
	EventRequestSync   = "request_sync"
	EventKickUser      = "kick_user"
	EventCloseRoom     = "close_room"
)

// Server → client event names.
const (
	EventRoomCreated      = "room_created"
	EventRoomJoined       = "room_joined"
	EventRoomError        = "room_error"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventHostTransferred  = "host_transferred"
	EventKicked           = "kicked"
	EventRoomClosed       = "room_closed"
	EventEditorAdded      = "editor_added"
	EventEditorRemoved    = "editor_removed"
	EventEditorSynced     = "editor_synced"
	EventReceiveOperation = "receive_operation"
	EventOperationError   = "operation_error"
	EventSyncError        = "sync_error"
)

// Event is the envelope for a single frame in either direction.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client → server payloads.

type CreateRoomPayload struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

type JoinRoomPayload struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	RoomCode string `json:"roomCode"`
}

type AddEditorPayload struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// EditorRefPayload carries a bare editor id (remove_editor, join_editor,
// leave_editor, request_sync).
type EditorRefPayload struct {
	EditorID int `json:"editorId"`
}

type SendOperationPayload struct {
	EditorID     int          `json:"editorId"`
	Operation    ot.Operation `json:"operation"`
	BaseRevision int          `json:"baseRevision"`
}

type KickUserPayload struct {
	TargetSocketID string `json:"targetSocketId"`
}

// Server → client payloads.

// EditorInfo describes one document of a room.
type EditorInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// UserInfo describes one room member.
type UserInfo struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	IsHost   bool   `json:"isHost"`
}

type RoomStatePayload struct {
	RoomCode string       `json:"roomCode"`
	Editors  []EditorInfo `json:"editors"`
	Users    []UserInfo   `json:"users"`
	IsHost   bool         `json:"isHost,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UserLeftPayload struct {
	SocketID string `json:"socketId"`
}

type HostTransferredPayload struct {
	NewHostID string `json:"newHostId"`
}

type EditorSyncedPayload struct {
	EditorID int    `json:"editorId"`
	Content  string `json:"content"`
	Revision int    `json:"revision"`
}

type ReceiveOperationPayload struct {
	EditorID       int          `json:"editorId"`
	Operation      ot.Operation `json:"operation"`
	Revision       int          `json:"revision"`
	AuthorSocketID string       `json:"authorSocketId"`
}

// Marshal frames a payload into an envelope, ready to write to a socket.
func Marshal(eventType string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payloads are our own structs; this only fires on a programming error.
		log.WithError(err).WithField("event", eventType).Error("failed to marshal payload")
		raw = []byte("{}")
	}
	data, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		log.WithError(err).WithField("event", eventType).Error("failed to marshal event")
		return []byte(`{"type":"` + eventType + `"}`)
	}
	return data
}
