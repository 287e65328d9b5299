// Package room implements rooms and the registry that routes client
// commands to them: membership and host tracking, per-editor document state
// and topic subscriptions, operation fan-out, and empty-room expiry.
package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jerukian123/collab-editor-monaco/pkg/document"
	"github.com/jerukian123/collab-editor-monaco/pkg/metrics"
	"github.com/jerukian123/collab-editor-monaco/pkg/ot"
	"github.com/jerukian123/collab-editor-monaco/pkg/protocol"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotInRoom      = errors.New("not in a room")
	ErrEditorNotFound = errors.New("editor not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrNotHost        = errors.New("only the host can do that")
	ErrLastEditor     = errors.New("cannot remove the last editor")
)

// Persister schedules durable document snapshots. Implemented by
// db.DebouncedWriter.
type Persister interface {
	Schedule(roomCode string, editorID int, content string, revision int)
	DiscardDocument(roomCode string, editorID int)
	DiscardRoom(roomCode string)
}

// Client is the handle for one connected participant. The handlers package
// owns the connection and its pumps; the room only ever writes to Send.
type Client struct {
	SocketID string
	Username string
	Color    string
	Conn     *websocket.Conn `json:"-"`
	Send     chan []byte     `json:"-"`
}

// TrySend queues a frame without blocking. Frames to a stalled client are
// dropped; the keepalive will take the connection down soon after.
func (c *Client) TrySend(data []byte) {
	select {
	case c.Send <- data:
	default:
		log.WithField("socket", c.SocketID).Warn("send buffer full, dropping frame")
	}
}

type member struct {
	client  *Client
	joinSeq uint64
}

// editor is one document of a room: metadata, canonical state, and the
// topic's subscriber set. Its mutex serializes ingest and fan-out so that
// broadcast order matches apply order, and guards subscribers.
type editor struct {
	mu          sync.Mutex
	info        protocol.EditorInfo
	store       *document.Store
	subscribers map[string]*Client
}

// Room is one collaborative session: a code, a set of documents, and the
// members editing them.
type Room struct {
	Code string

	mu           sync.Mutex
	editors      map[int]*editor
	nextEditorID int
	members      map[string]*member
	joinSeq      uint64
	hostID       string
	historySize  int
	persist      Persister
}

func newRoom(code string, historySize int, persist Persister) *Room {
	r := &Room{
		Code:         code,
		editors:      make(map[int]*editor),
		nextEditorID: 1,
		members:      make(map[string]*member),
		historySize:  historySize,
		persist:      persist,
	}
	// Every room starts with one default document.
	r.addEditorLocked("untitled", "plaintext")
	return r
}

func (r *Room) addEditorLocked(name, language string) protocol.EditorInfo {
	id := r.nextEditorID
	r.nextEditorID++
	info := protocol.EditorInfo{ID: id, Name: name, Language: language}
	r.editors[id] = &editor{
		info:        info,
		store:       document.New(id, r.historySize),
		subscribers: make(map[string]*Client),
	}
	return info
}

// addRecoveredEditor rebuilds an editor from a persisted snapshot after a
// process restart. Names and languages are not persisted.
func (r *Room) addRecoveredEditor(id int, name, language, content string, revision int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ed := &editor{
		info:        protocol.EditorInfo{ID: id, Name: name, Language: language},
		store:       document.New(id, r.historySize),
		subscribers: make(map[string]*Client),
	}
	ed.store.Reset(content, revision)
	r.editors[id] = ed
	if id >= r.nextEditorID {
		r.nextEditorID = id + 1
	}
}

// AddMember registers a client; the first member of a room becomes host.
func (r *Room) AddMember(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinSeq++
	r.members[c.SocketID] = &member{client: c, joinSeq: r.joinSeq}
	if r.hostID == "" {
		r.hostID = c.SocketID
	}
}

// RemoveMember drops a client from the room and from every topic, closes its
// send channel, and transfers the host role to the oldest remaining member
// when the host left. Returns the new host id ("" if unchanged) and whether
// the room is now empty.
func (r *Room) RemoveMember(socketID string) (newHostID string, empty bool, err error) {
	return r.removeMember(socketID, true)
}

// DetachMember is RemoveMember without closing the send channel: the client
// stays connected and is moving to another room.
func (r *Room) DetachMember(socketID string) (newHostID string, empty bool, err error) {
	return r.removeMember(socketID, false)
}

func (r *Room) removeMember(socketID string, closeSend bool) (newHostID string, empty bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[socketID]
	if !ok {
		return "", len(r.members) == 0, ErrUserNotFound
	}
	delete(r.members, socketID)
	for _, ed := range r.editors {
		ed.mu.Lock()
		delete(ed.subscribers, socketID)
		ed.mu.Unlock()
	}
	if closeSend {
		// No sender can still reach this client: it is out of the member map
		// and out of every subscriber set, and we hold the room lock.
		close(m.client.Send)
	}

	if r.hostID == socketID {
		r.hostID = ""
		var oldest *member
		for _, cand := range r.members {
			if oldest == nil || cand.joinSeq < oldest.joinSeq {
				oldest = cand
			}
		}
		if oldest != nil {
			r.hostID = oldest.client.SocketID
			newHostID = r.hostID
		}
	}
	return newHostID, len(r.members) == 0, nil
}

// RemoveAllMembers empties the room, closing every send channel. Used by
// close_room after the closing broadcast has been queued.
func (r *Room) RemoveAllMembers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Clear every subscriber set before closing channels so no in-flight
	// fan-out can write to a closed channel.
	for _, ed := range r.editors {
		ed.mu.Lock()
		ed.subscribers = make(map[string]*Client)
		ed.mu.Unlock()
	}
	ids := make([]string, 0, len(r.members))
	for id, m := range r.members {
		ids = append(ids, id)
		close(m.client.Send)
	}
	r.members = make(map[string]*member)
	r.hostID = ""
	return ids
}

// Member returns the client handle for a socket id.
func (r *Room) Member(socketID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[socketID]
	if !ok {
		return nil, false
	}
	return m.client, true
}

// MemberCount returns the number of live members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// HostID returns the current host's socket id.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// IsHost reports whether socketID holds the host role.
func (r *Room) IsHost(socketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID != "" && r.hostID == socketID
}

// Users lists the members in join order.
func (r *Room) Users() []protocol.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].joinSeq < ms[j].joinSeq })

	users := make([]protocol.UserInfo, 0, len(ms))
	for _, m := range ms {
		users = append(users, protocol.UserInfo{
			SocketID: m.client.SocketID,
			Username: m.client.Username,
			Color:    m.client.Color,
			IsHost:   m.client.SocketID == r.hostID,
		})
	}
	return users
}

// Editors lists the room's documents ordered by id.
func (r *Room) Editors() []protocol.EditorInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]protocol.EditorInfo, 0, len(r.editors))
	for _, ed := range r.editors {
		infos = append(infos, ed.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// EditorIDs returns the ids of the room's documents.
func (r *Room) EditorIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.editors))
	for id := range r.editors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AddEditor creates a new empty document and returns its metadata.
func (r *Room) AddEditor(name, language string) protocol.EditorInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addEditorLocked(name, language)
}

// RemoveEditor deletes a document, provided at least one remains.
func (r *Room) RemoveEditor(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.editors[id]; !ok {
		return ErrEditorNotFound
	}
	if len(r.editors) <= 1 {
		return ErrLastEditor
	}
	delete(r.editors, id)
	return nil
}

func (r *Room) editor(id int) (*editor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ed, ok := r.editors[id]
	if !ok {
		return nil, ErrEditorNotFound
	}
	return ed, nil
}

// Subscribe adds a client to an editor's topic and returns the snapshot for
// late-joiner bootstrap. A client sits in at most one topic at a time, so
// any previous subscription is dropped first.
func (r *Room) Subscribe(editorID int, c *Client) (content string, revision int, err error) {
	r.mu.Lock()
	target, ok := r.editors[editorID]
	if !ok {
		r.mu.Unlock()
		return "", 0, ErrEditorNotFound
	}
	for id, ed := range r.editors {
		if id == editorID {
			continue
		}
		ed.mu.Lock()
		delete(ed.subscribers, c.SocketID)
		ed.mu.Unlock()
	}
	r.mu.Unlock()

	target.mu.Lock()
	defer target.mu.Unlock()
	target.subscribers[c.SocketID] = c
	content, revision = target.store.Snapshot()
	return content, revision, nil
}

// Unsubscribe removes a client from an editor's topic.
func (r *Room) Unsubscribe(editorID int, socketID string) error {
	ed, err := r.editor(editorID)
	if err != nil {
		return err
	}
	ed.mu.Lock()
	defer ed.mu.Unlock()
	delete(ed.subscribers, socketID)
	return nil
}

// SnapshotEditor returns an editor's current content and revision.
func (r *Room) SnapshotEditor(editorID int) (content string, revision int, err error) {
	ed, err := r.editor(editorID)
	if err != nil {
		return "", 0, err
	}
	content, revision = ed.store.Snapshot()
	return content, revision, nil
}

// Ingest routes a client operation to the owning document, schedules the
// durable write, and fans the applied operation out to every subscriber of
// the topic, the author included. Fan-out happens under the editor's lock so
// broadcast order is apply order.
func (r *Room) Ingest(editorID int, author *Client, op ot.Operation, baseRevision int) (ot.Operation, int, error) {
	ed, err := r.editor(editorID)
	if err != nil {
		return nil, 0, err
	}

	ed.mu.Lock()
	defer ed.mu.Unlock()

	applied, revision, err := ed.store.Ingest(op, baseRevision)
	if err != nil {
		return nil, 0, err
	}
	metrics.OperationsApplied.Inc()

	content, _ := ed.store.Snapshot()
	r.persist.Schedule(r.Code, editorID, content, revision)

	frame := protocol.Marshal(protocol.EventReceiveOperation, protocol.ReceiveOperationPayload{
		EditorID:       editorID,
		Operation:      applied,
		Revision:       revision,
		AuthorSocketID: author.SocketID,
	})
	for _, sub := range ed.subscribers {
		sub.TrySend(frame)
	}
	return applied, revision, nil
}

// BroadcastAll queues a frame to every member of the room.
func (r *Room) BroadcastAll(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		m.client.TrySend(data)
	}
}

// BroadcastExcept queues a frame to every member but one.
func (r *Room) BroadcastExcept(socketID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.members {
		if id == socketID {
			continue
		}
		m.client.TrySend(data)
	}
}
