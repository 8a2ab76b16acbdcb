package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GeorgeZhiXu/AiChatBot/internal/ai"
	"github.com/GeorgeZhiXu/AiChatBot/internal/config"
	"github.com/GeorgeZhiXu/AiChatBot/internal/metrics"
	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
	"github.com/rs/zerolog/log"
)

// Hub 管理房间级别的子 Hub 和全部在线连接，实现延迟创建与并发安全。
// 每个房间的全部状态变更都在该房间自己的事件循环里串行处理。
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uint]*RoomHub
	clients map[*Client]struct{}

	history  store.HistoryStore
	provider ai.Provider
	cfg      config.Config
}

func NewHub(history store.HistoryStore, provider ai.Provider, cfg config.Config) *Hub {
	return &Hub{
		rooms:    make(map[uint]*RoomHub),
		clients:  make(map[*Client]struct{}),
		history:  history,
		provider: provider,
		cfg:      cfg,
	}
}

// GetRoom 若房间的子 Hub 未初始化则懒加载一个，并恢复该房间的消息序号。
func (h *Hub) GetRoom(room models.Room) (*RoomHub, error) {
	h.mu.RLock()
	rh := h.rooms[room.ID]
	h.mu.RUnlock()
	if rh != nil {
		return rh, nil
	}

	// 序号恢复走数据库，放在锁外执行，慢查询不挡住其他房间和广播。
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seq, err := h.history.LastSeq(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing := h.rooms[room.ID]; existing != nil {
		return existing, nil
	}
	rh = newRoomHub(h, room, seq)
	h.rooms[room.ID] = rh
	go rh.run()
	return rh, nil
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (h *Hub) Online(roomID uint) int {
	h.mu.RLock()
	rh := h.rooms[roomID]
	h.mu.RUnlock()
	if rh == nil {
		return 0
	}
	return rh.Online()
}

// Streaming 报告是否有任何房间正在进行 AI 生成。
func (h *Hub) Streaming() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, rh := range h.rooms {
		if rh.streamingFlag.Load() {
			return true
		}
	}
	return false
}

// OnlineTotal 返回全部在线连接数。
func (h *Hub) OnlineTotal() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WsConnections.Inc()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	metrics.WsConnections.Dec()
}

// BroadcastAll 把事件推给全部在线连接；发不进去的慢消费者直接丢弃该条。
func (h *Hub) BroadcastAll(payload []byte) {
	h.broadcastAll(payload, nil)
}

func (h *Hub) broadcastAll(payload []byte, skip *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c == skip {
			continue
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

// NotifyRoomCreated 把目录新增同步给全部在线连接，各端的房间列表不用轮询。
// except 用于排除已单独收到 room_created 的创建者。REST 和 ws 两条入口共用。
func (h *Hub) NotifyRoomCreated(room models.Room, except *Client) {
	h.broadcastAll(encode(roomListUpdatedEvent{Type: "room_list_updated", Action: "created", Room: roomDTO(room, 0)}), except)
}

// NotifyRoomDeleted 把房间删除同步给全部在线连接。REST 和 ws 两条入口共用。
func (h *Hub) NotifyRoomDeleted(room models.Room) {
	h.BroadcastAll(encode(roomDeletedEvent{
		Type:    "room_deleted",
		RoomID:  room.ID,
		Message: fmt.Sprintf("Room '%s' was deleted", room.Name),
	}))
	h.BroadcastAll(encode(roomListUpdatedEvent{Type: "room_list_updated", Action: "deleted", Room: roomDTO(room, 0)}))
}

// CloseRoom 在房间从目录删除后调用：把仍绑定在该房间的连接全部迁移到
// 默认房间（完整的切换语义），然后停掉该房间的事件循环。同步等待完成。
func (h *Hub) CloseRoom(roomID uint, defaultRoom models.Room) error {
	h.mu.Lock()
	rh := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if rh == nil {
		return nil
	}
	target, err := h.GetRoom(defaultRoom)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	rh.closing <- closeRequest{target: target, done: done}
	<-done
	return nil
}

// recentHistory 取房间的历史快照，失败时返回空列表并记日志，不影响主流程。
func (h *Hub) recentHistory(roomID uint) []store.MessageView {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := h.history.Recent(ctx, roomID, h.cfg.HistoryLimit)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("load history snapshot")
		return []store.MessageView{}
	}
	return msgs
}

type publishRequest struct {
	author  *Client
	content string
}

type closeRequest struct {
	target *RoomHub
	done   chan struct{}
}

// RoomHub 是单个房间的事件循环：注册、注销、消息发布和 AI 流式事件
// 全部由 run() 这一个 goroutine 串行消费，房间内事件因此天然有序。
type RoomHub struct {
	hub  *Hub
	room models.Room

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	publish    chan publishRequest
	aiEvents   chan aiEvent
	closing    chan closeRequest
	// done 关闭表示事件循环已退出，向通道投递的一方据此避免永久阻塞。
	done chan struct{}

	online        int32
	streamingFlag atomic.Bool

	// 以下状态仅由 run() goroutine 访问。
	nextSeq uint64
	gen     *generation
}

func newRoomHub(h *Hub, room models.Room, lastSeq uint64) *RoomHub {
	return &RoomHub{
		hub:        h,
		room:       room,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan publishRequest, 64),
		aiEvents:   make(chan aiEvent, 64),
		closing:    make(chan closeRequest),
		done:       make(chan struct{}),
		nextSeq:    lastSeq,
	}
}

// Online 返回房间在线客户端数量。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }

// Room 返回房间元数据快照。
func (rh *RoomHub) Room() models.Room { return rh.room }

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			rh.broadcast(encode(userJoinedEvent{
				Type:      "user_joined",
				Username:  c.username,
				UserCount: len(rh.clients),
				Timestamp: time.Now(),
			}))
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
				rh.broadcast(encode(userLeftEvent{
					Type:      "user_left",
					Username:  c.username,
					UserCount: len(rh.clients),
					Timestamp: time.Now(),
				}))
			}
		case req := <-rh.publish:
			rh.handlePublish(req)
		case ev := <-rh.aiEvents:
			rh.handleAIEvent(ev)
		case req := <-rh.closing:
			rh.migrateAll(req.target)
			close(rh.done)
			close(req.done)
			return
		}
	}
}

// handlePublish 分配序号、持久化并按发布顺序扇出；随后检测 @AI 提及。
func (rh *RoomHub) handlePublish(req publishRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uid := req.author.userID
	msg := models.Message{
		RoomID:  rh.room.ID,
		Seq:     rh.nextSeq + 1,
		UserID:  &uid,
		Content: req.content,
	}
	if err := rh.hub.history.Append(ctx, &msg); err != nil {
		log.Error().Err(err).Uint("room_id", rh.room.ID).Msg("append message")
		req.author.trySend(errorPayload("failed to send message"))
		return
	}
	rh.nextSeq = msg.Seq

	view := store.MessageView{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Seq:       msg.Seq,
		UserID:    msg.UserID,
		Username:  req.author.username,
		Content:   msg.Content,
		IsAI:      false,
		Timestamp: msg.CreatedAt,
	}
	metrics.WsMessagesTotal.Inc()
	rh.broadcast(encode(chatMessageEvent{Type: "chat_message", MessageView: view}))

	if ai.HasMention(req.content) {
		rh.triggerAI(req.author, req.content)
	}
}

// broadcast 把一条已编码的事件推给当前绑定在房间里的全部连接。
// 发送缓冲已满的慢消费者被视为死连接：踢出房间并关掉底层连接，
// 由其读泵的清理路径完成剩余注销。
func (rh *RoomHub) broadcast(payload []byte) {
	for c := range rh.clients {
		select {
		case c.send <- payload:
		default:
			delete(rh.clients, c)
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			_ = c.conn.Close()
		}
	}
}

// migrateAll 把房间里剩余的连接整体搬到目标房间，语义等同逐个 switch_room：
// 目标房间广播 user_joined，被迁移的连接收到新房间的历史快照。
func (rh *RoomHub) migrateAll(target *RoomHub) {
	if len(rh.clients) == 0 {
		return
	}
	snapshot := rh.hub.recentHistory(target.room.ID)
	dto := roomDTO(target.room, 0)
	for c := range rh.clients {
		delete(rh.clients, c)
		c.room.Store(target)
		target.register <- c
		dto.Online = target.Online()
		c.trySend(encode(roomJoinedEvent{Type: "room_joined", Room: dto, Messages: snapshot}))
	}
	atomic.StoreInt32(&rh.online, 0)
}
