package hub

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	logsvc "github.com/SkTech0/VirtualClassroom-sub000/services/logger"
)

// fakeMembers lists the members of each room code.
type fakeMembers struct {
	mu    sync.Mutex
	rooms map[string][]string
}

func (m *fakeMembers) IsMember(_ context.Context, code, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.rooms[code] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *fakeMembers) remove(code, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rooms[code][:0]
	for _, id := range m.rooms[code] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	m.rooms[code] = kept
}

var users = map[string]Identity{
	"u1": {UserID: "u1", Name: "Ann", Username: "ann"},
	"u2": {UserID: "u2", Name: "Bob", Username: "bob"},
	"u3": {UserID: "u3", Name: "Cid", Username: "cid"},
}

func setup(t *testing.T) (*Hub, string) {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)

	members := &fakeMembers{rooms: map[string][]string{
		"ROOM22": {"u1", "u2"},
		"OTHER3": {"u1", "u3"},
	}}
	h := New(members, logger, []string{"*"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := users[r.URL.Query().Get("user")]
		if !ok {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		_ = h.ServeWS(w, r, id)
	}))
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url, userID string) *testConn {
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (tc *testConn) send(in Inbound) {
	require.NoError(tc.t, tc.conn.WriteJSON(in))
}

type received struct {
	Type     string          `json:"type"`
	Room     string          `json:"room"`
	From     string          `json:"from"`
	Name     string          `json:"name"`
	Body     string          `json:"body"`
	SentAt   *time.Time      `json:"sent_at"`
	Presence []Identity      `json:"presence"`
	Data     json.RawMessage `json:"data"`
	Message  string          `json:"message"`
}

// next returns the next frame of type typ, skipping the others.
func (tc *testConn) next(typ string) received {
	tc.t.Helper()
	for {
		_ = tc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f received
		require.NoError(tc.t, tc.conn.ReadJSON(&f), "waiting for %q", typ)
		if f.Type == typ {
			return f
		}
	}
}

// silent asserts no frame of type typ arrives shortly.
func (tc *testConn) silent(typ string) {
	tc.t.Helper()
	for {
		_ = tc.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var f received
		if err := tc.conn.ReadJSON(&f); err != nil {
			return
		}
		assert.NotEqual(tc.t, typ, f.Type, "unexpected frame %+v", f)
	}
}

func (tc *testConn) join(code string) received {
	tc.send(Inbound{Type: TypeJoin, Room: code})
	return tc.next(TypeJoined)
}

func TestHub_JoinRequiresMembership(t *testing.T) {
	_, url := setup(t)
	cid := dial(t, url, "u3")

	cid.send(Inbound{Type: TypeJoin, Room: "room22"})
	f := cid.next(TypeError)
	assert.Equal(t, errNotMember, f.Message)

	joined := cid.join("other3")
	assert.Equal(t, "OTHER3", joined.Room)
	assert.Equal(t, []Identity{users["u3"]}, joined.Presence)
}

func TestHub_ChatAndPresence(t *testing.T) {
	h, url := setup(t)
	ann := dial(t, url, "u1")
	bob := dial(t, url, "u2")
	cid := dial(t, url, "u3")

	ann.join("ROOM22")
	joined := bob.join("ROOM22")
	assert.Equal(t, []Identity{users["u1"], users["u2"]}, joined.Presence)

	presence := ann.next(TypePresence)
	assert.Len(t, presence.Presence, 2)
	assert.Len(t, h.Presence("room22"), 2)

	cid.join("OTHER3")

	ann.send(Inbound{Type: TypeChat, Body: "  hello  "})
	for _, tc := range []*testConn{ann, bob} {
		f := tc.next(TypeChat)
		assert.Equal(t, "hello", f.Body)
		assert.Equal(t, "u1", f.From)
		assert.Equal(t, "Ann", f.Name)
		assert.NotNil(t, f.SentAt)
	}
	cid.silent(TypeChat)

	ann.send(Inbound{Type: TypeChat, Body: "   "})
	assert.Equal(t, errEmptyChat, ann.next(TypeError).Message)
	ann.send(Inbound{Type: TypeChat, Body: strings.Repeat("a", maxChatLength+1)})
	assert.Equal(t, errChatTooLong, ann.next(TypeError).Message)

	bob.send(Inbound{Type: TypeTyping})
	assert.Equal(t, "u2", ann.next(TypeTyping).From)

	bob.send(Inbound{Type: TypeLeave})
	assert.Equal(t, "ROOM22", bob.next(TypeLeft).Room)
	assert.Len(t, ann.next(TypePresence).Presence, 1)

	bob.send(Inbound{Type: TypeChat, Body: "anyone?"})
	assert.Equal(t, errNotInRoom, bob.next(TypeError).Message)
}

func TestHub_SwitchRooms(t *testing.T) {
	h, url := setup(t)
	ann := dial(t, url, "u1")

	ann.join("ROOM22")
	ann.join("OTHER3")
	assert.Empty(t, h.Presence("ROOM22"))
	assert.Len(t, h.Presence("OTHER3"), 1)
}

func TestHub_Signal(t *testing.T) {
	_, url := setup(t)
	ann := dial(t, url, "u1")
	bob := dial(t, url, "u2")
	ann.join("ROOM22")
	bob.join("ROOM22")

	ann.send(Inbound{Type: TypeSignal, To: "u2", Data: json.RawMessage(`{"sdp":"offer"}`)})
	f := bob.next(TypeSignal)
	assert.Equal(t, "u1", f.From)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(f.Data))

	ann.send(Inbound{Type: TypeSignal, To: "u3", Data: json.RawMessage(`{}`)})
	assert.Equal(t, errPeerNotInRoom, ann.next(TypeError).Message)

	ann.send(Inbound{Type: TypeSignal, To: "u2"})
	assert.Equal(t, errBadFrame, ann.next(TypeError).Message)
}

func TestHub_Broadcast(t *testing.T) {
	h, url := setup(t)
	ann := dial(t, url, "u1")
	cid := dial(t, url, "u3")
	ann.join("ROOM22")
	cid.join("OTHER3")

	h.Broadcast("room22", core.EventPomodoro, map[string]string{"action": "started"})
	f := ann.next(core.EventPomodoro)
	assert.Equal(t, "ROOM22", f.Room)
	assert.JSONEq(t, `{"action":"started"}`, string(f.Data))
	cid.silent(core.EventPomodoro)

	h.Broadcast("ROOM22", core.EventRoomClosed, nil)
	ann.next(core.EventRoomClosed)
	assert.Empty(t, h.Presence("ROOM22"))

	ann.send(Inbound{Type: TypeChat, Body: "still here?"})
	assert.Equal(t, errNotInRoom, ann.next(TypeError).Message)
}

func TestHub_Kick(t *testing.T) {
	h, url := setup(t)
	ann := dial(t, url, "u1")
	bob := dial(t, url, "u2")
	bobPhone := dial(t, url, "u2")
	ann.join("ROOM22")
	bob.join("ROOM22")
	bobPhone.join("ROOM22")

	h.members.(*fakeMembers).remove("ROOM22", "u2")
	h.Kick("room22", "u2")
	assert.Equal(t, "ROOM22", bob.next(TypeLeft).Room)
	assert.Equal(t, "ROOM22", bobPhone.next(TypeLeft).Room)
	assert.Equal(t, []Identity{users["u1"]}, h.Presence("ROOM22"))

	ann.send(Inbound{Type: TypeChat, Body: "members only"})
	assert.Equal(t, "members only", ann.next(TypeChat).Body)
	bob.silent(TypeChat)
	bobPhone.silent(TypeChat)

	bob.send(Inbound{Type: TypeSignal, To: "u1", Data: json.RawMessage(`{}`)})
	assert.Equal(t, errNotInRoom, bob.next(TypeError).Message)
	bob.send(Inbound{Type: TypeJoin, Room: "ROOM22"})
	assert.Equal(t, errNotMember, bob.next(TypeError).Message)

	// kicking someone who is not connected is a no-op
	h.Kick("ROOM22", "u3")
	assert.Len(t, h.Presence("ROOM22"), 1)
}

func TestHub_PingAndUnknown(t *testing.T) {
	_, url := setup(t)
	ann := dial(t, url, "u1")

	ann.send(Inbound{Type: TypePing})
	ann.next(TypePong)

	ann.send(Inbound{Type: "dance"})
	assert.Equal(t, errUnknownFrame, ann.next(TypeError).Message)

	require.NoError(t, ann.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, errBadFrame, ann.next(TypeError).Message)
}

func TestHub_DisconnectUpdatesPresence(t *testing.T) {
	h, url := setup(t)
	ann := dial(t, url, "u1")
	bob := dial(t, url, "u2")
	ann.join("ROOM22")
	bob.join("ROOM22")
	ann.next(TypePresence)

	require.NoError(t, bob.conn.Close())
	assert.Equal(t, []Identity{users["u1"]}, ann.next(TypePresence).Presence)
	assert.Len(t, h.Presence("ROOM22"), 1)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://app.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(r), "no origin")
	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))
}
