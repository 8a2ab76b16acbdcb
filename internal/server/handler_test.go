package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeorgeZhiXu/AiChatBot/internal/config"
	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"github.com/GeorgeZhiXu/AiChatBot/internal/service"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
	"github.com/GeorgeZhiXu/AiChatBot/internal/ws"
)

// stubHistory 记录 Page 的调用参数并返回预置的消息。
type stubHistory struct {
	pages     []store.MessageView
	gotRoom   uint
	gotLimit  int
	gotBefore uint
}

func (s *stubHistory) Append(context.Context, *models.Message) error { return nil }

func (s *stubHistory) Recent(ctx context.Context, roomID uint, limit int) ([]store.MessageView, error) {
	return s.Page(ctx, roomID, limit, 0)
}

func (s *stubHistory) Page(_ context.Context, roomID uint, limit int, beforeID uint) ([]store.MessageView, error) {
	s.gotRoom, s.gotLimit, s.gotBefore = roomID, limit, beforeID
	return s.pages, nil
}

func (s *stubHistory) LastSeq(context.Context, uint) (uint64, error) { return 0, nil }

// fakeRoomStore 是 RoomStore 的内存实现，覆盖 REST 房间接口。
type fakeRoomStore struct {
	nextID  uint
	rooms   map[uint]models.Room
	members map[[2]uint]string
}

func newFakeRoomStore(rooms ...models.Room) *fakeRoomStore {
	f := &fakeRoomStore{rooms: make(map[uint]models.Room), members: make(map[[2]uint]string)}
	for _, r := range rooms {
		f.rooms[r.ID] = r
		if r.ID > f.nextID {
			f.nextID = r.ID
		}
	}
	return f
}

func (f *fakeRoomStore) Create(_ context.Context, room *models.Room, creatorID uint) error {
	for _, r := range f.rooms {
		if r.Name == room.Name {
			return store.ErrDuplicate
		}
	}
	f.nextID++
	room.ID = f.nextID
	f.rooms[room.ID] = *room
	f.members[[2]uint{room.ID, creatorID}] = models.RoleAdmin
	return nil
}

func (f *fakeRoomStore) GetByID(_ context.Context, roomID uint) (*models.Room, error) {
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRoomStore) ListVisible(_ context.Context, userID uint) ([]models.Room, error) {
	var out []models.Room
	for id, r := range f.rooms {
		if !r.IsPrivate {
			out = append(out, r)
			continue
		}
		if _, ok := f.members[[2]uint{id, userID}]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRoomStore) Delete(_ context.Context, roomID uint) error {
	if _, ok := f.rooms[roomID]; !ok {
		return store.ErrNotFound
	}
	delete(f.rooms, roomID)
	return nil
}

func (f *fakeRoomStore) Membership(_ context.Context, roomID, userID uint) (*models.Membership, error) {
	role, ok := f.members[[2]uint{roomID, userID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.Membership{RoomID: roomID, UserID: userID, Role: role}, nil
}

func (f *fakeRoomStore) AddMember(_ context.Context, roomID, userID uint, role string) error {
	if _, ok := f.members[[2]uint{roomID, userID}]; !ok {
		f.members[[2]uint{roomID, userID}] = role
	}
	return nil
}

func newTestHandler(history store.HistoryStore) *Handler {
	hub := ws.NewHub(history, nil, config.Config{HistoryLimit: 50})
	return NewHandler(nil, nil, history, hub)
}

func newRoomHandler(fs *fakeRoomStore) *Handler {
	hub := ws.NewHub(&stubHistory{}, nil, config.Config{HistoryLimit: 50})
	roomSvc := service.NewRoomService(fs, models.Room{ID: 1, Name: "General"})
	return NewHandler(nil, roomSvc, &stubHistory{}, hub)
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(&stubHistory{})
	r := gin.New()
	r.GET("/healthz", h.Healthz)

	w := doRequest(r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["users_online"])
	assert.Equal(t, false, body["ai_active"])
}

func TestRegisterValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(&stubHistory{})
	r := gin.New()
	r.POST("/register", h.Register)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"empty username", `{"username":"","password":"pass"}`},
		{"whitespace username", `{"username":"   ","password":"pass"}`},
		{"short username", `{"username":"a","password":"pass"}`},
		{"short password", `{"username":"alice","password":"abc"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/register", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateRoomValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(&stubHistory{})
	r := gin.New()
	r.POST("/rooms", h.CreateRoom)

	w := doRequest(r, http.MethodPost, "/rooms", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/rooms", `{"name":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/rooms", `{"name":"`+strings.Repeat("x", 200)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRoomInvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(&stubHistory{})
	r := gin.New()
	r.DELETE("/rooms/:id", h.DeleteRoom)

	for _, id := range []string{"abc", "0", "-1"} {
		w := doRequest(r, http.MethodDelete, "/rooms/"+id, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "id %q", id)
	}
}

func TestCreateRoomREST(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fs := newFakeRoomStore(models.Room{ID: 1, Name: "General"})
	h := newRoomHandler(fs)
	r := gin.New()
	r.POST("/rooms", h.CreateRoom)

	w := doRequest(r, http.MethodPost, "/rooms", `{"name":"golang","description":"go talk"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Room struct {
			ID   uint   `json:"id"`
			Name string `json:"name"`
		} `json:"room"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "golang", body.Room.Name)
	_, err := fs.GetByID(context.Background(), body.Room.ID)
	assert.NoError(t, err)

	w = doRequest(r, http.MethodPost, "/rooms", `{"name":"golang"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteRoomREST(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fs := newFakeRoomStore(
		models.Room{ID: 1, Name: "General"},
		models.Room{ID: 2, Name: "doomed"},
	)
	fs.members[[2]uint{2, 0}] = models.RoleAdmin
	h := newRoomHandler(fs)
	r := gin.New()
	r.DELETE("/rooms/:id", h.DeleteRoom)

	w := doRequest(r, http.MethodDelete, "/rooms/1", "")
	assert.Equal(t, http.StatusConflict, w.Code, "default room must be protected")

	w = doRequest(r, http.MethodDelete, "/rooms/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, err := fs.GetByID(context.Background(), 2)
	assert.ErrorIs(t, err, store.ErrNotFound)

	w = doRequest(r, http.MethodDelete, "/rooms/2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	uid := uint(1)
	history := &stubHistory{pages: []store.MessageView{
		{ID: 5, RoomID: 3, Seq: 5, UserID: &uid, Username: "alice", Content: "hi", Timestamp: time.Now()},
	}}
	h := newTestHandler(history)
	r := gin.New()
	r.GET("/rooms/:id/messages", h.ListMessages)

	w := doRequest(r, http.MethodGet, "/rooms/3/messages?limit=20&before_id=9", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(3), history.gotRoom)
	assert.Equal(t, 20, history.gotLimit)
	assert.Equal(t, uint(9), history.gotBefore)

	var body struct {
		Messages []store.MessageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hi", body.Messages[0].Content)

	w = doRequest(r, http.MethodGet, "/rooms/zero/messages", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
