package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/rendezvous/internal/collider"
	"github.com/mossy-p/rendezvous/internal/middleware"
	"github.com/mossy-p/rendezvous/internal/models"
	"github.com/mossy-p/rendezvous/internal/params"
	"github.com/mossy-p/rendezvous/internal/rooms"
	"github.com/mossy-p/rendezvous/internal/signaling"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "test-secret"

// fakeCollider records the messages posted to it.
type fakeCollider struct {
	mu       sync.Mutex
	status   int
	received []string
}

func (f *fakeCollider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, r.URL.Path+" "+string(body))
	w.WriteHeader(f.status)
}

func (f *fakeCollider) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeCollider) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

type testEnv struct {
	router   *gin.Engine
	registry *rooms.MemoryRegistry
	collider *fakeCollider
	query    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeCollider{status: http.StatusOK}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	colliderURL, _ := url.Parse(ts.URL)
	registry := rooms.NewMemoryRegistry()
	svc := signaling.NewService(signaling.Config{
		Registry:  registry,
		Forwarder: collider.NewClient(collider.Config{Timeout: time.Second}),
	})
	h := NewSignaling(Config{
		Service: svc,
		Params:  params.NewBuilder(params.Options{ColliderHostPortPairs: []string{colliderURL.Host}}),
	})

	router := gin.New()
	h.Register(router)
	h.RegisterOperator(router.Group("/api", middleware.JWTAuth(jwtSecret)))

	return &testEnv{
		router:   router,
		registry: registry,
		collider: fake,
		query:    "?wstls=false&wshpp=" + colliderURL.Host,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) join(t *testing.T, roomID string) models.JoinResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/join/"+roomID+e.query, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.JoinResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func result(t *testing.T, w *httptest.ResponseRecorder) models.Result {
	t.Helper()
	var resp models.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Result
}

func TestSignaling_JoinMessageLeaveFlow(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	// Given c1 alone in the room
	first := env.join(t, "42")
	req.Equal(models.ResultSuccess, first.Result)
	req.Equal("true", first.Params.IsInitiator)
	req.Equal("42", first.Params.RoomID)
	req.Empty(first.Params.Messages)
	c1 := first.Params.ClientID
	req.NotEmpty(c1)

	// When c1 posts an offer it is buffered
	w := env.do(t, http.MethodPost, "/message/42/"+c1+env.query, `{"type":"offer"}`)
	req.Equal(models.ResultSuccess, result(t, w))
	req.Empty(env.collider.messages())

	// Then the second participant receives it on join
	second := env.join(t, "42")
	req.Equal(models.ResultSuccess, second.Result)
	req.Equal("false", second.Params.IsInitiator)
	req.Equal([]string{`{"type":"offer"}`}, second.Params.Messages)
	c2 := second.Params.ClientID

	// And later messages go to the collider
	w = env.do(t, http.MethodPost, "/message/42/"+c2+env.query, `{"type":"answer"}`)
	req.Equal(http.StatusOK, w.Code)
	req.Equal(models.ResultSuccess, result(t, w))
	req.Equal([]string{"/42/" + c2 + ` {"type":"answer"}`}, env.collider.messages())

	// A third participant is turned away
	third := env.do(t, http.MethodPost, "/join/42", "")
	req.Equal(models.ResultRoomFull, result(t, third))
	w = env.do(t, http.MethodGet, "/r/42", "")
	req.Equal(models.ResultRoomFull, result(t, w))

	// Leaving promotes the remaining participant
	w = env.do(t, http.MethodPost, "/leave/42/"+c1, "")
	req.Equal(models.ResultSuccess, result(t, w))
	room, _ := env.registry.Room(rooms.CacheKey("example.com", "42"))
	remaining, ok := room.Client(c2)
	req.True(ok)
	req.True(remaining.IsInitiator())

	w = env.do(t, http.MethodGet, "/r/42", "")
	req.Equal(models.ResultSuccess, result(t, w))
}

func TestSignaling_Message_Errors(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/message/none/c1", "m")
	req.Equal(models.ResultUnknownRoom, result(t, w))

	env.join(t, "7")
	w = env.do(t, http.MethodPost, "/message/7/nobody", "m")
	req.Equal(models.ResultUnknownClient, result(t, w))

	w = env.do(t, http.MethodPost, "/message/7/nobody", "")
	req.Equal(models.ResultInvalidRequest, result(t, w))
}

func TestSignaling_Message_ForwardFailureSurfacesStatus(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.collider.setStatus(http.StatusServiceUnavailable)
	c1 := env.join(t, "9").Params.ClientID
	env.join(t, "9")

	w := env.do(t, http.MethodPost, "/message/9/"+c1+env.query, "candidate")

	req.Equal(http.StatusServiceUnavailable, w.Code)
	req.Equal(models.ResultError, result(t, w))
}

func TestSignaling_Message_NonOKSuccessStatusIsBadGateway(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.collider.setStatus(http.StatusNoContent)
	c1 := env.join(t, "204").Params.ClientID
	env.join(t, "204")

	w := env.do(t, http.MethodPost, "/message/204/"+c1+env.query, "candidate")

	req.Equal(http.StatusBadGateway, w.Code)
	var resp models.Response
	req.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	req.Equal(models.ResultError, resp.Result)
	req.Equal(http.StatusNoContent, resp.UpstreamStatus)
}

func TestSignaling_Message_RejectsInvalidUTF8(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	c1 := env.join(t, "bin").Params.ClientID

	w := env.do(t, http.MethodPost, "/message/bin/"+c1+env.query, "\xff\xfe")

	req.Equal(models.ResultInvalidRequest, result(t, w))
	room, _ := env.registry.Room(rooms.CacheKey("example.com", "bin"))
	buffered, err := room.DrainMessages(c1)
	req.NoError(err)
	req.Empty(buffered)
}

func TestSignaling_Message_UnlistedColliderIsNotContacted(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	other := &fakeCollider{status: http.StatusOK}
	ts := httptest.NewServer(other)
	t.Cleanup(ts.Close)
	otherURL, _ := url.Parse(ts.URL)
	query := "?wstls=false&wshpp=" + otherURL.Host
	env.query += "&debug=loopback"
	c1 := env.join(t, "x").Params.ClientID

	w := env.do(t, http.MethodPost, "/message/x/"+c1+query, "offer")

	req.Equal(models.ResultSuccess, result(t, w))
	req.Empty(other.messages())
	req.Equal([]string{"/x/" + c1 + " offer"}, env.collider.messages())
}

func TestSignaling_Leave_Errors(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/leave/none/c1", "")
	req.Equal(models.ResultUnknownRoom, result(t, w))

	env.join(t, "5")
	w = env.do(t, http.MethodPost, "/leave/5/unknown", "")
	req.Equal(models.ResultUnknownClient, result(t, w))
}

func TestSignaling_Loopback(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.query += "&debug=loopback"

	resp := env.join(t, "lb")
	req.Equal("true", resp.Params.IsInitiator)
	req.Equal("true", resp.Params.IsLoopback)
	c1 := resp.Params.ClientID

	w := env.do(t, http.MethodPost, "/message/lb/"+c1+env.query, "offer")
	req.Equal(models.ResultSuccess, result(t, w))
	req.Len(env.collider.messages(), 1)

	w = env.do(t, http.MethodPost, "/leave/lb/"+c1, "")
	req.Equal(models.ResultSuccess, result(t, w))
	room, _ := env.registry.Room(rooms.CacheKey("example.com", "lb"))
	req.Equal(0, room.Occupancy())
}

func TestSignaling_Index(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/", "")

	req.Equal(http.StatusOK, w.Code)
	var resp models.RoomPageResponse
	req.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	req.Equal(models.ResultSuccess, resp.Result)
	req.Empty(resp.Params.RoomID)
	req.NotEmpty(resp.Params.WSSURL)
}

func TestOperator_GetAndResetRoom(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	token, err := middleware.NewOperatorToken(jwtSecret, "ops", time.Hour)
	req.NoError(err)
	c1 := env.join(t, "op").Params.ClientID

	authed := func(method, path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, r)
		return w
	}

	w := env.do(t, http.MethodGet, "/api/rooms/op", "")
	req.Equal(http.StatusUnauthorized, w.Code)

	w = authed(http.MethodGet, "/api/rooms/op")
	req.Equal(http.StatusOK, w.Code)
	var info models.RoomInfo
	req.NoError(json.Unmarshal(w.Body.Bytes(), &info))
	req.Equal([]string{c1}, info.Participants)
	req.Equal(1, info.Occupancy)
	req.False(info.Full)

	w = authed(http.MethodGet, "/api/rooms/missing")
	req.Equal(http.StatusNotFound, w.Code)

	w = authed(http.MethodDelete, "/api/rooms/op")
	req.Equal(http.StatusOK, w.Code)
	w = authed(http.MethodGet, "/api/rooms/op")
	req.NoError(json.Unmarshal(w.Body.Bytes(), &info))
	req.Equal(0, info.Occupancy)
}
