package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craft/collab/internal/collab"
	"craft/collab/internal/models"
	"craft/collab/internal/session"
	"craft/collab/internal/utils"
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startServer(t *testing.T) (*httptest.Server, *collab.Coordinator) {
	t.Helper()
	log := utils.NopLogger()
	coord := collab.NewCoordinator(log, nil, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()

	registry := session.NewRegistry(coord, session.Options{SendBuffer: 16}, log)
	h := NewHandlers(log, coord, registry, func(*http.Request) bool { return true })

	r := chi.NewRouter()
	r.Get("/ws", h.CollabWS)
	r.Get("/api/v1/scripts/{scriptId}/collaborators", h.Collaborators)
	r.Get("/api/v1/collab/stats", h.Stats)
	r.Get("/healthz", h.Health)

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return server, coord
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "data": data}))
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f inbound
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readMembership(t *testing.T, conn *websocket.Conn, typ string) models.MembershipChange {
	t.Helper()
	f := read(t, conn)
	require.Equal(t, typ, f.Type)
	var m models.MembershipChange
	require.NoError(t, json.Unmarshal(f.Data, &m))
	return m
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var f inbound
	err := conn.ReadJSON(&f)
	require.Error(t, err, "unexpected frame %s", f.Type)
}

func collaborators(t *testing.T, server *httptest.Server, scriptID string) models.Collaborators {
	t.Helper()
	resp, err := http.Get(server.URL + "/api/v1/scripts/" + scriptID + "/collaborators")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out models.Collaborators
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestScriptRoomOverWebSocket(t *testing.T) {
	server, _ := startServer(t)
	a := dialWS(t, server)
	b := dialWS(t, server)

	send(t, a, models.EventJoinScript, map[string]string{"scriptId": "script-42", "userId": "ana"})
	joinedA := readMembership(t, a, models.EventUserJoined)
	aID := joinedA.UserID
	assert.Equal(t, []string{aID}, joinedA.ActiveUsers)

	send(t, b, models.EventJoinScript, map[string]string{"scriptId": "script-42", "userId": "ben"})
	joinedB := readMembership(t, b, models.EventUserJoined)
	bID := joinedB.UserID
	assert.Equal(t, []string{aID, bID}, joinedB.ActiveUsers)
	assert.Equal(t, joinedB, readMembership(t, a, models.EventUserJoined))

	send(t, a, models.EventScriptUpdate, map[string]any{
		"scriptId":       "script-42",
		"content":        "EXT. PARK",
		"cursorPosition": map[string]int{"line": 1, "ch": 5},
	})
	f := read(t, b)
	require.Equal(t, models.EventScriptUpdated, f.Type)
	assert.JSONEq(t, `{"userId":"`+aID+`","content":"EXT. PARK","cursorPosition":{"line":1,"ch":5}}`, string(f.Data))

	// A's next frame is B's update, so A never saw its own.
	send(t, b, models.EventScriptUpdate, map[string]any{"scriptId": "script-42", "content": "INT. HOUSE", "cursorPosition": nil})
	f = read(t, a)
	require.Equal(t, models.EventScriptUpdated, f.Type)
	assert.JSONEq(t, `{"userId":"`+bID+`","content":"INT. HOUSE","cursorPosition":null}`, string(f.Data))

	assert.ElementsMatch(t, []string{aID, bID}, collaborators(t, server, "script-42").ActiveUsers)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	b.Close()
	left := readMembership(t, a, models.EventUserLeft)
	assert.Equal(t, models.MembershipChange{UserID: bID, ActiveUsers: []string{aID}}, left)

	a.Close()
	assert.Eventually(t, func() bool {
		return len(collaborators(t, server, "script-42").ActiveUsers) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	server, _ := startServer(t)
	a := dialWS(t, server)
	b := dialWS(t, server)

	send(t, a, models.EventJoinScript, map[string]string{"scriptId": "s"})
	aID := readMembership(t, a, models.EventUserJoined).UserID

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte("{{{")))
	send(t, b, models.EventJoinScript, map[string]any{"scriptId": nil, "userId": "x"})
	send(t, b, models.EventJoinScript, "")
	send(t, b, "dropTables", map[string]string{"scriptId": "s"})
	expectSilence(t, a)

	// The connection survives and can still join using the bare id form.
	send(t, b, models.EventJoinScript, "s")
	joined := readMembership(t, b, models.EventUserJoined)
	assert.Equal(t, aID, joined.ActiveUsers[0])
	assert.Len(t, joined.ActiveUsers, 2)
}

func TestLeaveScriptOverWebSocket(t *testing.T) {
	server, _ := startServer(t)
	a := dialWS(t, server)
	b := dialWS(t, server)

	send(t, a, models.EventJoinScript, map[string]string{"scriptId": "s"})
	aID := readMembership(t, a, models.EventUserJoined).UserID
	send(t, b, models.EventJoinScript, map[string]string{"scriptId": "s"})
	bID := readMembership(t, b, models.EventUserJoined).UserID
	readMembership(t, a, models.EventUserJoined)

	send(t, b, models.EventLeaveScript, map[string]string{"scriptId": "s"})
	left := readMembership(t, a, models.EventUserLeft)
	assert.Equal(t, models.MembershipChange{UserID: bID, ActiveUsers: []string{aID}}, left)

	send(t, a, models.EventScriptUpdate, map[string]string{"scriptId": "s", "content": "CUT TO:"})
	expectSilence(t, b)
}

func TestStatsAndHealth(t *testing.T) {
	server, _ := startServer(t)
	a := dialWS(t, server)
	send(t, a, models.EventJoinScript, map[string]string{"scriptId": "s"})
	readMembership(t, a, models.EventUserJoined)

	resp, err := http.Get(server.URL + "/api/v1/collab/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats models.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, models.Stats{Rooms: 1, Connections: 1}, stats)

	rec := httptest.NewRecorder()
	(&Handlers{}).Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCollaboratorsWhenCoordinatorStopped(t *testing.T) {
	log := utils.NopLogger()
	coord := collab.NewCoordinator(log, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = coord.Run(ctx)

	h := NewHandlers(log, coord, session.NewRegistry(coord, session.Options{}, log), nil)
	r := chi.NewRouter()
	r.Get("/api/v1/scripts/{scriptId}/collaborators", h.Collaborators)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scripts/s/collaborators", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpgradeFailureIsReported(t *testing.T) {
	server, _ := startServer(t)

	resp, err := http.Get(server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
