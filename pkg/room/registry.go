package room

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jerukian123/collab-editor-monaco/pkg/db"
	"github.com/jerukian123/collab-editor-monaco/pkg/metrics"
	"github.com/jerukian123/collab-editor-monaco/pkg/protocol"
)

// Room codes avoid glyphs that read ambiguously (0/O, 1/I).
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

// DefaultExpiry is how long an empty room survives before its state is
// discarded and its persisted documents removed.
const DefaultExpiry = 30 * time.Minute

// Registry owns the code→Room map and the reverse socket→code map, and
// drives room lifecycle: creation, restart recovery, host privileges,
// empty-room expiry, and transactional cleanup.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	byClient map[string]string
	timers   map[string]*time.Timer

	store       db.Store
	persist     Persister
	expiry      time.Duration
	historySize int
}

// NewRegistry creates a registry wired to its durable store and debounced
// persister.
func NewRegistry(store db.Store, persist Persister, expiry time.Duration, historySize int) *Registry {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Registry{
		rooms:       make(map[string]*Room),
		byClient:    make(map[string]string),
		timers:      make(map[string]*time.Timer),
		store:       store,
		persist:     persist,
		expiry:      expiry,
		historySize: historySize,
	}
}

func generateCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// CreateRoom makes a new room with one default document; the creator becomes
// its only member and host. A creator already in a room leaves it first; the
// socket→room mapping is single-valued.
func (reg *Registry) CreateRoom(c *Client) *Room {
	reg.detach(c.SocketID, false)

	reg.mu.Lock()
	code := generateCode()
	for _, taken := reg.rooms[code]; taken; _, taken = reg.rooms[code] {
		code = generateCode()
	}
	r := newRoom(code, reg.historySize, reg.persist)
	reg.rooms[code] = r
	reg.byClient[c.SocketID] = code
	reg.mu.Unlock()

	r.AddMember(c)
	metrics.ActiveRooms.Inc()

	if err := reg.store.InitDocuments(code, r.EditorIDs()); err != nil {
		// In-memory state stays authoritative; rows appear on first save.
		log.WithError(err).WithField("room", code).Error("failed to init documents")
	}

	log.WithFields(log.Fields{"room": code, "socket": c.SocketID}).Info("room created")
	return r
}

// JoinRoom adds a client to an existing room. When the room is not in
// memory (process restart), its documents are loaded from the store and the
// room is rebuilt; the joiner becomes host of a recovered room. A joiner
// already in a room leaves it first.
func (reg *Registry) JoinRoom(c *Client, code string) (*Room, error) {
	reg.detach(c.SocketID, false)

	reg.mu.Lock()
	r, ok := reg.rooms[code]
	reg.mu.Unlock()

	if !ok {
		docs, err := reg.store.LoadDocuments(code)
		if err != nil {
			log.WithError(err).WithField("room", code).Error("failed to load documents")
			return nil, ErrRoomNotFound
		}
		if len(docs) == 0 {
			return nil, ErrRoomNotFound
		}
		r = reg.recoverRoom(code, docs)
	}

	reg.mu.Lock()
	if t, ok := reg.timers[code]; ok {
		t.Stop()
		delete(reg.timers, code)
	}
	if _, ok := reg.rooms[code]; !ok {
		// The expiry timer fired between lookup and join; bring the room back.
		reg.rooms[code] = r
		metrics.ActiveRooms.Inc()
	}
	reg.byClient[c.SocketID] = code
	// Membership is added under the registry lock so a concurrently firing
	// expiry sees a non-empty room.
	r.AddMember(c)
	reg.mu.Unlock()

	r.BroadcastExcept(c.SocketID, protocol.Marshal(protocol.EventUserJoined, protocol.UserInfo{
		SocketID: c.SocketID,
		Username: c.Username,
		Color:    c.Color,
	}))

	log.WithFields(log.Fields{"room": code, "socket": c.SocketID}).Info("user joined room")
	return r, nil
}

func (reg *Registry) recoverRoom(code string, docs []db.PersistedDocument) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[code]; ok {
		// Lost the race with another joiner recovering the same room.
		return r
	}
	r := &Room{
		Code:         code,
		editors:      make(map[int]*editor),
		nextEditorID: 1,
		members:      make(map[string]*member),
		historySize:  reg.historySize,
		persist:      reg.persist,
	}
	for _, doc := range docs {
		r.addRecoveredEditor(doc.EditorID, fmt.Sprintf("editor-%d", doc.EditorID), "plaintext", doc.Content, doc.Revision)
	}
	reg.rooms[code] = r
	metrics.ActiveRooms.Inc()
	log.WithFields(log.Fields{"room": code, "documents": len(docs)}).Info("room recovered from store")
	return r
}

// RoomFor resolves the room a socket currently belongs to.
func (reg *Registry) RoomFor(socketID string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	code, ok := reg.byClient[socketID]
	if !ok {
		return nil, ErrNotInRoom
	}
	r, ok := reg.rooms[code]
	if !ok {
		return nil, ErrNotInRoom
	}
	return r, nil
}

// AddEditor creates a document in the caller's room, persists its empty row,
// and announces it to every member.
func (reg *Registry) AddEditor(socketID, name, language string) (protocol.EditorInfo, error) {
	r, err := reg.RoomFor(socketID)
	if err != nil {
		return protocol.EditorInfo{}, err
	}
	info := r.AddEditor(name, language)

	if err := reg.store.InitDocuments(r.Code, []int{info.ID}); err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.Code, "editor": info.ID}).Error("failed to init document")
	}

	r.BroadcastAll(protocol.Marshal(protocol.EventEditorAdded, info))
	return info, nil
}

// RemoveEditor deletes a document from the caller's room, provided another
// remains, and announces the removal.
func (reg *Registry) RemoveEditor(socketID string, editorID int) error {
	r, err := reg.RoomFor(socketID)
	if err != nil {
		return err
	}
	if err := r.RemoveEditor(editorID); err != nil {
		return err
	}
	reg.persist.DiscardDocument(r.Code, editorID)
	if err := reg.store.DeleteDocument(r.Code, editorID); err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.Code, "editor": editorID}).Error("failed to delete document row")
	}
	r.BroadcastAll(protocol.Marshal(protocol.EventEditorRemoved, protocol.EditorRefPayload{EditorID: editorID}))
	return nil
}

// Disconnect removes a socket from its room (if any), transferring the host
// role and arming the expiry timer when the room empties.
func (reg *Registry) Disconnect(socketID string) {
	reg.detach(socketID, true)
}

// detach is the single departure path: drop the reverse mapping, remove the
// member (closing its send channel only when the socket is gone for good),
// announce the departure, and arm expiry on an emptied room.
func (reg *Registry) detach(socketID string, closeSend bool) {
	reg.mu.Lock()
	code, ok := reg.byClient[socketID]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.byClient, socketID)
	r, ok := reg.rooms[code]
	reg.mu.Unlock()
	if !ok {
		return
	}

	newHost, empty, err := r.removeMember(socketID, closeSend)
	if err != nil {
		return
	}

	r.BroadcastAll(protocol.Marshal(protocol.EventUserLeft, protocol.UserLeftPayload{SocketID: socketID}))
	if newHost != "" {
		r.BroadcastAll(protocol.Marshal(protocol.EventHostTransferred, protocol.HostTransferredPayload{NewHostID: newHost}))
		log.WithFields(log.Fields{"room": code, "host": newHost}).Info("host transferred")
	}
	if empty {
		reg.armExpiry(code)
	}
	log.WithFields(log.Fields{"room": code, "socket": socketID}).Info("user left room")
}

func (reg *Registry) armExpiry(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if t, ok := reg.timers[code]; ok {
		t.Stop()
	}
	reg.timers[code] = time.AfterFunc(reg.expiry, func() { reg.expireRoom(code) })
	log.WithFields(log.Fields{"room": code, "ttl": reg.expiry}).Debug("room empty, expiry armed")
}

func (reg *Registry) expireRoom(code string) {
	reg.mu.Lock()
	r, ok := reg.rooms[code]
	if !ok || r.MemberCount() > 0 {
		// Already gone, or a rejoin beat the timer's Stop.
		delete(reg.timers, code)
		reg.mu.Unlock()
		return
	}
	delete(reg.rooms, code)
	delete(reg.timers, code)
	reg.mu.Unlock()

	metrics.ActiveRooms.Dec()
	reg.cleanup(code)
	log.WithField("room", code).Info("room expired")
}

// KickUser removes the target from the caller's room. Host only.
func (reg *Registry) KickUser(socketID, targetID string) error {
	r, err := reg.RoomFor(socketID)
	if err != nil {
		return err
	}
	if !r.IsHost(socketID) {
		return ErrNotHost
	}
	target, ok := r.Member(targetID)
	if !ok {
		return ErrUserNotFound
	}

	target.TrySend(protocol.Marshal(protocol.EventKicked, protocol.ErrorPayload{Message: "removed by the host"}))

	reg.mu.Lock()
	delete(reg.byClient, targetID)
	reg.mu.Unlock()

	// A host kicking themself is a departure like any other: the host role
	// moves on and an emptied room starts its expiry clock.
	newHost, empty, err := r.RemoveMember(targetID)
	if err != nil {
		return err
	}
	r.BroadcastAll(protocol.Marshal(protocol.EventUserLeft, protocol.UserLeftPayload{SocketID: targetID}))
	if newHost != "" {
		r.BroadcastAll(protocol.Marshal(protocol.EventHostTransferred, protocol.HostTransferredPayload{NewHostID: newHost}))
		log.WithFields(log.Fields{"room": r.Code, "host": newHost}).Info("host transferred")
	}
	if empty {
		reg.armExpiry(r.Code)
	}
	log.WithFields(log.Fields{"room": r.Code, "target": targetID}).Info("user kicked")
	return nil
}

// CloseRoom tears the caller's room down for everyone. Host only.
func (reg *Registry) CloseRoom(socketID string) error {
	r, err := reg.RoomFor(socketID)
	if err != nil {
		return err
	}
	if !r.IsHost(socketID) {
		return ErrNotHost
	}
	code := r.Code

	r.BroadcastAll(protocol.Marshal(protocol.EventRoomClosed, protocol.ErrorPayload{Message: "the host closed the room"}))
	removed := r.RemoveAllMembers()

	reg.mu.Lock()
	for _, id := range removed {
		delete(reg.byClient, id)
	}
	if t, ok := reg.timers[code]; ok {
		t.Stop()
		delete(reg.timers, code)
	}
	delete(reg.rooms, code)
	reg.mu.Unlock()

	metrics.ActiveRooms.Dec()
	reg.cleanup(code)
	log.WithField("room", code).Info("room closed by host")
	return nil
}

// cleanup drops pending writes and deletes the room's persisted rows.
func (reg *Registry) cleanup(code string) {
	reg.persist.DiscardRoom(code)
	if err := reg.store.CleanupRoom(code); err != nil {
		log.WithError(err).WithField("room", code).Error("failed to clean up room rows")
	}
}

// RoomCount returns the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
