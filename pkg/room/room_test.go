package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerukian123/collab-editor-monaco/pkg/db"
	"github.com/jerukian123/collab-editor-monaco/pkg/ot"
	"github.com/jerukian123/collab-editor-monaco/pkg/protocol"
)

func TestUsersListedInJoinOrder(t *testing.T) {
	reg, _, _ := newTestRegistry(time.Hour)
	first := newTestClient("first")
	second := newTestClient("second")
	third := newTestClient("third")

	r := reg.CreateRoom(first)
	_, err := reg.JoinRoom(second, r.Code)
	require.NoError(t, err)
	_, err = reg.JoinRoom(third, r.Code)
	require.NoError(t, err)

	users := r.Users()
	require.Len(t, users, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{users[0].SocketID, users[1].SocketID, users[2].SocketID})
	assert.True(t, users[0].IsHost)
	assert.False(t, users[1].IsHost)
}

func TestBroadcastOrderMatchesApplyOrder(t *testing.T) {
	reg, _, _ := newTestRegistry(time.Hour)
	author := newTestClient("author")
	watcher := newTestClient("watcher")

	r := reg.CreateRoom(author)
	_, err := reg.JoinRoom(watcher, r.Code)
	require.NoError(t, err)
	drain(watcher)

	_, _, err = r.Subscribe(1, watcher)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, _, err := r.Ingest(1, author, ot.Operation{ot.Retain(i), ot.Insert("a")}, i)
		require.NoError(t, err)
	}

	// Revisions on the watcher's stream are strictly increasing and
	// contiguous, matching apply order.
	events := drain(watcher)
	require.Len(t, events, 20)
	for i, ev := range events {
		require.Equal(t, protocol.EventReceiveOperation, ev.Type)
		var p protocol.ReceiveOperationPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, i+1, p.Revision)
	}
}

func TestRemoveMemberClosesSendChannel(t *testing.T) {
	reg, _, _ := newTestRegistry(time.Hour)
	host := newTestClient("host")
	guest := newTestClient("guest")

	r := reg.CreateRoom(host)
	_, err := reg.JoinRoom(guest, r.Code)
	require.NoError(t, err)

	_, _, err = r.RemoveMember(guest.SocketID)
	require.NoError(t, err)

	// Drain whatever was queued; the channel must then report closed.
	for {
		if _, ok := <-guest.Send; !ok {
			break
		}
	}
}

func TestTrySendDropsWhenFull(t *testing.T) {
	c := &Client{SocketID: "slow", Send: make(chan []byte, 1)}
	c.TrySend([]byte("one"))
	c.TrySend([]byte("two")) // dropped, must not block or panic
	assert.Len(t, c.Send, 1)
}

func TestSnapshotAfterResetMatches(t *testing.T) {
	reg, store, _ := newTestRegistry(time.Hour)
	store.rows["ROOMAA"] = []db.PersistedDocument{{EditorID: 3, Content: "abc", Revision: 7}}

	c := newTestClient("c")
	r, err := reg.JoinRoom(c, "ROOMAA")
	require.NoError(t, err)

	content, revision, err := r.SnapshotEditor(3)
	require.NoError(t, err)
	assert.Equal(t, "abc", content)
	assert.Equal(t, 7, revision)

	// New edits continue from the recovered revision.
	applied, rev, err := r.Ingest(3, c, ot.Operation{ot.Retain(3), ot.Insert("!")}, 7)
	require.NoError(t, err)
	assert.Equal(t, 8, rev)
	assert.Equal(t, ot.Operation{ot.Retain(3), ot.Insert("!")}, applied)
}
