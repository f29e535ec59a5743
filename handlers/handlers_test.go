package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg/ratelimit"
	"github.com/akinalp/gradehub/repository"
	"github.com/akinalp/gradehub/services"
	"github.com/akinalp/gradehub/ws"
)

// testUserHeader names the seeded user a request acts as.
const testUserHeader = "X-Test-User"

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	mux   *http.ServeMux
	users map[string]*models.User
}

func newTestServer(t *testing.T, maxMessages int) *testServer {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	userRepo := repository.NewSQLiteUserRepo(db.Conn)
	roomRepo := repository.NewSQLiteRoomRepo(db.Conn)
	membershipRepo := repository.NewSQLiteMembershipRepo(db.Conn)
	messageRepo := repository.NewSQLiteMessageRepo(db.Conn)
	notifRepo := repository.NewSQLiteNotificationRepo(db.Conn)
	dmRepo := repository.NewSQLiteDMRepo(db.Conn)

	bus := services.NewFanoutBus(notifRepo, roomRepo, membershipRepo, ws.NewHub(), nil, services.DeliveryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	t.Cleanup(func() {
		cancel()
		bus.Wait()
	})

	locks := services.NewRoomLocks()
	roster := services.NewRosterService(roomRepo, membershipRepo, userRepo, bus, locks)
	messages := services.NewMessageService(messageRepo, roomRepo, membershipRepo, userRepo, bus, locks)
	notifications := services.NewNotificationService(notifRepo, bus)
	dms := services.NewDMService(dmRepo, userRepo, bus)

	limiter := ratelimit.NewMessageRateLimiter(maxMessages, time.Minute, time.Minute)
	t.Cleanup(limiter.Close)

	teacherID := "t1"
	users := map[string]*models.User{
		"t1": {ID: "t1", Name: "Ada", Role: models.RoleTeacher},
		"s1": {ID: "s1", Name: "Amy", Role: models.RoleStudent, TeacherID: &teacherID},
		"s2": {ID: "s2", Name: "Ben", Role: models.RoleStudent, TeacherID: &teacherID},
		"t2": {ID: "t2", Name: "Cem", Role: models.RoleTeacher},
	}
	for _, u := range users {
		require.NoError(t, userRepo.Upsert(context.Background(), u))
	}

	room := NewRoomHandler(roster)
	member := NewMemberHandler(roster)
	message := NewMessageHandler(messages, limiter)
	notification := NewNotificationHandler(notifications)
	events := NewEventsHandler(bus)
	me := NewMeHandler()
	dm := NewDMHandler(dms, limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/me", me.Get)
	mux.HandleFunc("POST /api/rooms", room.Create)
	mux.HandleFunc("GET /api/rooms", room.List)
	mux.HandleFunc("GET /api/rooms/{id}", room.Get)
	mux.HandleFunc("GET /api/rooms/{id}/members", member.List)
	mux.HandleFunc("GET /api/rooms/{id}/candidates", member.Candidates)
	mux.HandleFunc("POST /api/rooms/{id}/members", member.Add)
	mux.HandleFunc("DELETE /api/rooms/{id}/members/{userId}", member.Remove)
	mux.HandleFunc("POST /api/rooms/{id}/messages", message.Post)
	mux.HandleFunc("GET /api/rooms/{id}/messages", message.List)
	mux.HandleFunc("GET /api/notifications", notification.List)
	mux.HandleFunc("GET /api/notifications/unread", notification.Unread)
	mux.HandleFunc("POST /api/notifications/read", notification.MarkAllRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", notification.MarkRead)
	mux.HandleFunc("POST /api/events", events.Publish)
	mux.HandleFunc("GET /api/dms", dm.ListChannels)
	mux.HandleFunc("POST /api/dms", dm.OpenChannel)
	mux.HandleFunc("GET /api/dms/{id}/messages", dm.Messages)
	mux.HandleFunc("POST /api/dms/{id}/messages", dm.Send)

	return &testServer{mux: mux, users: users}
}

// do sends the request as userID (anonymous when empty) and decodes the
// envelope.
func (s *testServer) do(t *testing.T, userID, method, path string, body any) (int, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if user, ok := s.users[userID]; ok {
		req = req.WithContext(context.WithValue(req.Context(), UserContextKey, user))
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (s *testServer) createRoom(t *testing.T, name string) models.Room {
	t.Helper()
	code, resp := s.do(t, "t1", http.MethodPost, "/api/rooms", map[string]string{"name": name, "kind": "chat"})
	require.Equal(t, http.StatusCreated, code, resp.Error)

	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	return room
}

func decode[T any](t *testing.T, resp apiResponse) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func TestMeHandler(t *testing.T) {
	s := newTestServer(t, 0)

	code, _ := s.do(t, "", http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := s.do(t, "s1", http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, code)
	me := decode[models.User](t, resp)
	assert.Equal(t, "s1", me.ID)
	assert.Equal(t, models.RoleStudent, me.Role)
}

func TestRoomHandler(t *testing.T) {
	s := newTestServer(t, 0)

	code, resp := s.do(t, "t1", http.MethodPost, "/api/rooms", map[string]string{"name": "  ", "kind": "chat"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)

	code, _ = s.do(t, "s1", http.MethodPost, "/api/rooms", map[string]string{"name": "Algebra", "kind": "chat"})
	assert.Equal(t, http.StatusForbidden, code)

	room := s.createRoom(t, "Algebra")
	assert.Equal(t, "t1", room.OwnerID)
	assert.Equal(t, models.RoomKindChat, room.Kind)

	code, resp = s.do(t, "t1", http.MethodGet, "/api/rooms/"+room.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, room.ID, decode[models.Room](t, resp).ID)

	code, _ = s.do(t, "s1", http.MethodGet, "/api/rooms/"+room.ID, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, "t1", http.MethodGet, "/api/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(t, "t1", http.MethodGet, "/api/rooms?kind=chat", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]models.Room](t, resp), 1)

	code, _ = s.do(t, "t1", http.MethodGet, "/api/rooms?kind=lecture", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMemberHandler(t *testing.T) {
	s := newTestServer(t, 0)
	room := s.createRoom(t, "Algebra")
	membersPath := "/api/rooms/" + room.ID + "/members"

	code, resp := s.do(t, "t1", http.MethodGet, "/api/rooms/"+room.ID+"/candidates", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]models.User](t, resp), 2)

	code, _ = s.do(t, "t1", http.MethodPost, membersPath, map[string]string{"user_id": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "s1", http.MethodPost, membersPath, map[string]string{"user_id": "s2"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, "t1", http.MethodPost, membersPath, map[string]string{"user_id": "s1"})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = s.do(t, "t1", http.MethodPost, membersPath, map[string]string{"user_id": "s1"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, "t1", http.MethodPost, membersPath, map[string]string{"user_id": "t1"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, "s1", http.MethodGet, membersPath, nil)
	require.Equal(t, http.StatusOK, code)
	members := decode[[]models.User](t, resp)
	require.Len(t, members, 1)
	assert.Equal(t, "s1", members[0].ID)

	code, resp = s.do(t, "t1", http.MethodGet, "/api/rooms/"+room.ID+"/candidates", nil)
	require.Equal(t, http.StatusOK, code)
	candidates := decode[[]models.User](t, resp)
	require.Len(t, candidates, 1)
	assert.Equal(t, "s2", candidates[0].ID)

	code, _ = s.do(t, "t1", http.MethodDelete, membersPath+"/s1", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, "t1", http.MethodDelete, membersPath+"/s1", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, "s1", http.MethodGet, membersPath, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestMessageHandler(t *testing.T) {
	s := newTestServer(t, 0)
	room := s.createRoom(t, "Algebra")
	code, _ := s.do(t, "t1", http.MethodPost, "/api/rooms/"+room.ID+"/members", map[string]string{"user_id": "s1"})
	require.Equal(t, http.StatusCreated, code)

	messagesPath := "/api/rooms/" + room.ID + "/messages"

	code, _ = s.do(t, "s2", http.MethodPost, messagesPath, map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, "s1", http.MethodPost, messagesPath, map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "s1", http.MethodPost, messagesPath, map[string]string{"content": "photo 1.png", "kind": "image"})
	assert.Equal(t, http.StatusBadRequest, code)

	for _, text := range []string{"one", "two", "three"} {
		code, resp := s.do(t, "s1", http.MethodPost, messagesPath, map[string]string{"content": text})
		require.Equal(t, http.StatusCreated, code, resp.Error)
	}

	code, resp := s.do(t, "t1", http.MethodGet, messagesPath+"?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[models.MessagePage](t, resp)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "one", page.Messages[0].Content)
	assert.True(t, page.HasMore)

	code, resp = s.do(t, "t1", http.MethodGet, messagesPath+"?limit=2&after="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, code)
	page = decode[models.MessagePage](t, resp)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "three", page.Messages[0].Content)
	assert.False(t, page.HasMore)

	code, _ = s.do(t, "t1", http.MethodGet, messagesPath+"?after=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "t1", http.MethodGet, messagesPath+"?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMessageHandler_RateLimited(t *testing.T) {
	s := newTestServer(t, 2)
	room := s.createRoom(t, "Algebra")
	messagesPath := "/api/rooms/" + room.ID + "/messages"

	for i := 0; i < 2; i++ {
		code, resp := s.do(t, "t1", http.MethodPost, messagesPath, map[string]string{"content": "hello"})
		require.Equal(t, http.StatusCreated, code, resp.Error)
	}

	req := httptest.NewRequest(http.MethodPost, messagesPath, bytes.NewReader([]byte(`{"content":"again"}`)))
	req = req.WithContext(context.WithValue(req.Context(), UserContextKey, s.users["t1"]))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestNotificationHandler(t *testing.T) {
	s := newTestServer(t, 0)
	room := s.createRoom(t, "Algebra")
	code, _ := s.do(t, "t1", http.MethodPost, "/api/rooms/"+room.ID+"/members", map[string]string{"user_id": "s1"})
	require.Equal(t, http.StatusCreated, code)

	code, resp := s.do(t, "s1", http.MethodGet, "/api/notifications/unread", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[models.UnreadCount](t, resp).UnreadCount)

	code, resp = s.do(t, "s1", http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]models.Notification](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "Amy was added to Algebra", list[0].Content)
	assert.False(t, list[0].IsRead)

	code, _ = s.do(t, "s2", http.MethodPost, "/api/notifications/"+list[0].ID+"/read", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(t, "s1", http.MethodPost, "/api/notifications/read", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]int{"marked": 1}, decode[map[string]int](t, resp))

	code, resp = s.do(t, "s1", http.MethodGet, "/api/notifications/unread", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, decode[models.UnreadCount](t, resp).UnreadCount)

	code, _ = s.do(t, "s1", http.MethodGet, "/api/notifications?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDMHandler(t *testing.T) {
	s := newTestServer(t, 0)

	code, _ := s.do(t, "s1", http.MethodPost, "/api/dms", map[string]string{"user_id": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "s1", http.MethodPost, "/api/dms", map[string]string{"user_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "s1", http.MethodPost, "/api/dms", map[string]string{"user_id": "t2"})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := s.do(t, "s1", http.MethodPost, "/api/dms", map[string]string{"user_id": "t1"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	channel := decode[models.DMChannel](t, resp)

	// the other side opening the pair gets the same channel
	code, resp = s.do(t, "t1", http.MethodPost, "/api/dms", map[string]string{"user_id": "s1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, channel.ID, decode[models.DMChannel](t, resp).ID)

	messagesPath := "/api/dms/" + channel.ID + "/messages"

	code, _ = s.do(t, "s2", http.MethodPost, messagesPath, map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, "s1", http.MethodPost, messagesPath, map[string]string{"content": " "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, "s1", http.MethodPost, messagesPath, map[string]string{"content": "is the quiz graded?"})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	msg := decode[models.DMMessage](t, resp)
	assert.Equal(t, "t1", msg.ReceiverID)

	code, resp = s.do(t, "t1", http.MethodGet, messagesPath, nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[models.DMMessagePage](t, resp)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "is the quiz graded?", page.Messages[0].Content)

	code, _ = s.do(t, "t1", http.MethodGet, messagesPath+"?after=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, "t1", http.MethodGet, "/api/dms", nil)
	require.Equal(t, http.StatusOK, code)
	channels := decode[[]models.DMChannelWithUser](t, resp)
	require.Len(t, channels, 1)
	assert.Equal(t, "s1", channels[0].OtherUser.ID)
	assert.NotNil(t, channels[0].LastMessageAt)

	code, resp = s.do(t, "t1", http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]models.Notification](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "New private message from Amy", list[0].Content)
	assert.Equal(t, models.EventPrivateMessage, list[0].EventType)

	code, resp = s.do(t, "s1", http.MethodGet, "/api/notifications/unread", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, decode[models.UnreadCount](t, resp).UnreadCount)
}

func TestEventsHandler(t *testing.T) {
	s := newTestServer(t, 0)

	body := map[string]any{
		"id":      "grade:42",
		"type":    "grade_posted",
		"content": "New grade in Algebra",
		"targets": []string{"s1", "s2"},
	}

	code, resp := s.do(t, "", http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusAccepted, code, resp.Error)
	result := decode[map[string]any](t, resp)
	assert.Equal(t, "grade:42", result["event_id"])
	assert.EqualValues(t, 2, result["created"])

	code, resp = s.do(t, "", http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusAccepted, code)
	assert.EqualValues(t, 0, decode[map[string]any](t, resp)["created"])

	code, _ = s.do(t, "", http.MethodPost, "/api/events", map[string]any{"id": "x", "type": "t", "content": "c"})
	assert.Equal(t, http.StatusBadRequest, code)
}

type fakePresence map[string]int

func (p fakePresence) OnlineUserIDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	return ids
}

func (p fakePresence) SessionCount(userID string) int { return p[userID] }

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(fakePresence{"s1": 2, "t1": 1})

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	body := decode[HealthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.OnlineUsers)
	assert.Equal(t, 3, body.Sessions)
}
