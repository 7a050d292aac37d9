package echoapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/pomodoro"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/services/hub"
)

func TestServer_home(t *testing.T) {
	env := setup(t)

	tests := []httpTest{
		{
			name: "home", path: "/", wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]string{
				"name": env.conf.AppName, "version": env.conf.Build, "api": apiPrefix, "docs": "/openapi.yaml",
			}),
		},
		{name: "not found", path: "/lol", wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "Not Found"})},
		{name: "live", path: "/health/live", wantCode: http.StatusOK, wantData: []byte(`{"status": "ok"}`)},
		{name: "trailing slash", path: "/health/live/", wantCode: http.StatusOK, wantData: []byte(`{"status": "ok"}`)},
		{name: "ready", path: "/health", wantCode: http.StatusOK, wantData: []byte(`{"status": "ok", "database": "up"}`)},
	}
	runHTTPTests(t, env, tests)
}

func TestServer_healthDown(t *testing.T) {
	env := setup(t)
	require.NoError(t, env.db.Close())

	req, rec := newRequest(http.MethodGet, "/health")
	env.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status": "unavailable", "database": "down"}`, rec.Body.String())
}

func TestServer_openapi(t *testing.T) {
	env := setup(t)

	req, rec := newRequest(http.MethodGet, "/openapi.yaml")
	env.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "openapi: 3.0.3"))
	assert.Contains(t, rec.Body.String(), "/pomodoros/{id}/complete:")
}

func TestServer_rateLimit(t *testing.T) {
	env := setup(t, func(conf *core.Config) { conf.Server.RateLimit = 1 })
	body := marshalObj(t, LoginRequest{Username: "ghost", Password: testPassword})

	rec := env.do(http.MethodPost, apiPrefix+"/auth/login", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, apiPrefix+"/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error": "too many requests, slow down"}`, rec.Body.String())

	// only the auth endpoints are limited
	rec = env.do(http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_hub(t *testing.T) {
	env := setup(t)
	owner := env.createUser(t, "Owner", "owner")
	other := env.createUser(t, "Other", "other")
	ownerToken := env.getToken(t, owner)
	rm := env.createRoom(t, owner, room.NewRoom{Name: "Music"})

	srv := httptest.NewServer(env.app)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/hubs/room"

	dial := func(t *testing.T, token string) *websocket.Conn {
		t.Helper()
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+token, nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
	read := func(t *testing.T, conn *websocket.Conn) hub.Frame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f hub.Frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	t.Run("auth required", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("join needs membership", func(t *testing.T) {
		conn := dial(t, env.getToken(t, other))
		require.NoError(t, conn.WriteJSON(hub.Inbound{Type: hub.TypeJoin, Room: rm.Code}))
		f := read(t, conn)
		assert.Equal(t, hub.TypeError, f.Type)
		assert.Equal(t, "you are not a member of this room", f.Message)
	})

	t.Run("service events reach the room", func(t *testing.T) {
		conn := dial(t, ownerToken)
		require.NoError(t, conn.WriteJSON(hub.Inbound{Type: hub.TypeJoin, Room: strings.ToLower(rm.Code)}))
		f := read(t, conn)
		assert.Equal(t, hub.TypeJoined, f.Type)
		assert.Equal(t, rm.Code, f.Room)
		require.Len(t, f.Presence, 1)
		assert.Equal(t, owner.ID, f.Presence[0].UserID)

		rec := env.do(http.MethodPost, apiPrefix+"/pomodoros", ownerToken, marshalObj(t, pomodoro.StartPomodoro{
			RoomCode: rm.Code, Kind: pomodoro.KindFocus,
		}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		f = read(t, conn)
		assert.Equal(t, core.EventPomodoro, f.Type)
		raw, err := json.Marshal(f.Data)
		require.NoError(t, err)
		var evt pomodoro.Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, "started", evt.Action)
		assert.Equal(t, owner.ID, evt.Pomodoro.UserID)

		rec = env.do(http.MethodDelete, apiPrefix+"/rooms/"+rm.Code, ownerToken)
		require.Equal(t, http.StatusNoContent, rec.Code)

		// closing the room cancels the pomodoro then tells the room
		f = read(t, conn)
		assert.Equal(t, core.EventPomodoro, f.Type)
		raw, err = json.Marshal(f.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, pomodoro.StatusCancelled, evt.Action)

		f = read(t, conn)
		assert.Equal(t, core.EventRoomClosed, f.Type)
	})
}

func TestServer_hubLeave(t *testing.T) {
	env := setup(t)
	owner := env.createUser(t, "Owner", "owner")
	other := env.createUser(t, "Other", "other")
	ownerToken, otherToken := env.getToken(t, owner), env.getToken(t, other)
	rm := env.createRoom(t, owner, room.NewRoom{Name: "Music"})
	rec := env.do(http.MethodPost, apiPrefix+"/rooms/"+rm.Code+"/join", otherToken)
	require.Less(t, rec.Code, 300, rec.Body.String())

	srv := httptest.NewServer(env.app)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/hubs/room"
	dial := func(token string) *websocket.Conn {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+token, nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
	// next skips frames until one of type typ
	next := func(conn *websocket.Conn, typ string) hub.Frame {
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			var f hub.Frame
			require.NoError(t, conn.ReadJSON(&f), "waiting for %q", typ)
			if f.Type == typ {
				return f
			}
		}
	}

	ownerConn, otherConn := dial(ownerToken), dial(otherToken)
	require.NoError(t, ownerConn.WriteJSON(hub.Inbound{Type: hub.TypeJoin, Room: rm.Code}))
	next(ownerConn, hub.TypeJoined)
	require.NoError(t, otherConn.WriteJSON(hub.Inbound{Type: hub.TypeJoin, Room: rm.Code}))
	next(otherConn, hub.TypeJoined)

	rec = env.do(http.MethodPost, apiPrefix+"/rooms/"+rm.Code+"/leave", otherToken)
	require.Less(t, rec.Code, 300, rec.Body.String())

	// the connection of a user who left no longer takes part in the room
	assert.Equal(t, rm.Code, next(otherConn, hub.TypeLeft).Room)
	left := next(ownerConn, core.EventUserLeft)
	assert.Equal(t, rm.Code, left.Room)

	require.NoError(t, otherConn.WriteJSON(hub.Inbound{Type: hub.TypeChat, Body: "still here"}))
	assert.Equal(t, "join a room first", next(otherConn, hub.TypeError).Message)
}
