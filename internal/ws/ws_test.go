package ws

// 本文件提供 ws 包测试共用的假实现与事件读取辅助函数。

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GeorgeZhiXu/AiChatBot/internal/ai"
	"github.com/GeorgeZhiXu/AiChatBot/internal/config"
	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
)

// fakeHistory 是 HistoryStore 的内存实现。
type fakeHistory struct {
	mu     sync.Mutex
	msgs   []models.Message
	nextID uint
}

func (f *fakeHistory) Append(_ context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	msg.CreatedAt = time.Now()
	f.msgs = append(f.msgs, *msg)
	return nil
}

func (f *fakeHistory) Recent(ctx context.Context, roomID uint, limit int) ([]store.MessageView, error) {
	return f.Page(ctx, roomID, limit, 0)
}

func (f *fakeHistory) Page(_ context.Context, roomID uint, limit int, beforeID uint) ([]store.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.MessageView
	for _, m := range f.msgs {
		if m.RoomID != roomID {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		name := store.AIUsername
		if !m.IsAI && m.UserID != nil {
			name = fmt.Sprintf("user%d", *m.UserID)
		}
		out = append(out, store.MessageView{
			ID: m.ID, RoomID: m.RoomID, Seq: m.Seq, UserID: m.UserID,
			Username: name, Content: m.Content, IsAI: m.IsAI,
			TriggeredBy: m.TriggeredBy, Timestamp: m.CreatedAt,
		})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeHistory) LastSeq(_ context.Context, roomID uint) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max uint64
	for _, m := range f.msgs {
		if m.RoomID == roomID && m.Seq > max {
			max = m.Seq
		}
	}
	return max, nil
}

// byRoom 返回某房间按追加顺序的全部消息副本。
func (f *fakeHistory) byRoom(roomID uint) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.msgs {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out
}

// fakeRooms 是 RoomStore 的内存实现，onAddMember 钩子用于在成员写入
// 的瞬间插入并发动作。
type fakeRooms struct {
	mu          sync.Mutex
	nextID      uint
	rooms       map[uint]models.Room
	members     map[[2]uint]string
	onAddMember func(roomID uint)
}

func newFakeRooms(rooms ...models.Room) *fakeRooms {
	f := &fakeRooms{rooms: make(map[uint]models.Room), members: make(map[[2]uint]string)}
	for _, r := range rooms {
		f.rooms[r.ID] = r
		if r.ID > f.nextID {
			f.nextID = r.ID
		}
	}
	return f
}

func (f *fakeRooms) Create(_ context.Context, room *models.Room, creatorID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeRooms) GetByID(_ context.Context, roomID uint) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRooms) ListVisible(_ context.Context, userID uint) ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeRooms) Delete(_ context.Context, roomID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomID]; !ok {
		return store.ErrNotFound
	}
	delete(f.rooms, roomID)
	return nil
}

func (f *fakeRooms) Membership(_ context.Context, roomID, userID uint) (*models.Membership, error) {
	f.mu.Lock()
	role, ok := f.members[[2]uint{roomID, userID}]
	f.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.Membership{RoomID: roomID, UserID: userID, Role: role}, nil
}

func (f *fakeRooms) AddMember(_ context.Context, roomID, userID uint, role string) error {
	f.mu.Lock()
	if _, ok := f.members[[2]uint{roomID, userID}]; !ok {
		f.members[[2]uint{roomID, userID}] = role
	}
	hook := f.onAddMember
	f.mu.Unlock()
	if hook != nil {
		hook(roomID)
	}
	return nil
}

// stepProvider 是可以逐条喂增量的 Provider 假实现：
// 向 steps 发送字符串产生一个增量，关闭 steps 结束流（err 决定成败）。
type stepProvider struct {
	steps chan string
	err   error
}

func newStepProvider() *stepProvider {
	return &stepProvider{steps: make(chan string)}
}

// allAtOnce 返回一个把全部增量一次性吐完并正常结束的 Provider。
func allAtOnce(deltas ...string) *stepProvider {
	p := newStepProvider()
	go func() {
		for _, d := range deltas {
			p.steps <- d
		}
		close(p.steps)
	}()
	return p
}

func (p *stepProvider) Stream(ctx context.Context, _ []ai.Turn, onDelta func(string) error) error {
	for {
		select {
		case d, ok := <-p.steps:
			if !ok {
				return p.err
			}
			if err := onDelta(d); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func testConfig() config.Config {
	return config.Config{HistoryLimit: 50, AIContextSize: 10, AIIdleTimeoutS: 30}
}

func newTestHub(p ai.Provider) (*Hub, *fakeHistory) {
	fh := &fakeHistory{}
	return NewHub(fh, p, testConfig()), fh
}

func newTestClient(h *Hub, userID uint, username string) *Client {
	return &Client{
		id:       fmt.Sprintf("conn-%d", userID),
		hub:      h,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
	}
}

func mustRoom(t *testing.T, h *Hub, room models.Room) *RoomHub {
	t.Helper()
	rh, err := h.GetRoom(room)
	if err != nil {
		t.Fatalf("GetRoom(%d): %v", room.ID, err)
	}
	return rh
}

// nextEvent 读取客户端收到的下一条事件并解码。
func nextEvent(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case b := <-c.send:
		var m map[string]interface{}
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode event %s: %v", b, err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// awaitEvent 跳过无关事件直到读到指定类型。
func awaitEvent(t *testing.T, c *Client, typ string) map[string]interface{} {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b := <-c.send:
			var m map[string]interface{}
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("decode event %s: %v", b, err)
			}
			if m["type"] == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", typ)
			return nil
		}
	}
}

// assertNoEvent 断言在短窗口内没有指定类型的事件到达。
func assertNoEvent(t *testing.T, c *Client, typ string) {
	t.Helper()
	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return
			}
			var m map[string]interface{}
			_ = json.Unmarshal(b, &m)
			if m["type"] == typ {
				t.Fatalf("unexpected %q event: %s", typ, b)
			}
		case <-timeout:
			return
		}
	}
}
