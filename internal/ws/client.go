package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GeorgeZhiXu/AiChatBot/internal/auth"
	"github.com/GeorgeZhiXu/AiChatBot/internal/config"
	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"github.com/GeorgeZhiXu/AiChatBot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Client 是一条在线连接：一个认证过的用户，同一时刻至多绑定一个房间。
type Client struct {
	id       string
	hub      *Hub
	roomSvc  *service.RoomService
	conn     *websocket.Conn
	send     chan []byte
	userID   uint
	username string
	// room 由 readPump 写、房间删除迁移时由房间事件循环改写，因此用原子指针。
	room atomic.Pointer[RoomHub]
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理 WebSocket 握手：校验 token、建立连接并启动读写泵。
// 连接建立后处于未绑定状态，直到客户端发送 user_join。
func Serve(h *Hub, roomSvc *service.RoomService, db *gorm.DB, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			id:       uuid.NewString(),
			hub:      h,
			roomSvc:  roomSvc,
			conn:     conn,
			send:     make(chan []byte, 256),
			userID:   user.ID,
			username: user.Username,
		}
		h.addClient(client)
		log.Debug().Str("conn_id", client.id).Str("username", client.username).Msg("ws connected")

		go client.writePump()
		client.readPump()
	}
}

// trySend 非阻塞投递，缓冲满则丢弃该条（慢消费者由房间循环剔除）。
func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) readPump() {
	defer c.disconnect()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.dispatch(data)
	}
}

// disconnect 从当前房间注销并从全局连接表移除。未绑定的连接直接清理。
// 若绑定的房间恰好在被删除，等迁移完成后再向新房间注销。
func (c *Client) disconnect() {
	_ = c.conn.Close()
	c.hub.removeClient(c)
	for {
		rh := c.room.Load()
		if rh == nil {
			return
		}
		select {
		case rh.unregister <- c:
			return
		case <-rh.done:
			// 房间已被删除；事件循环退出前会把连接迁移走，重试新房间。
			if c.room.Load() == rh {
				return
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch 在边界处把松散的 JSON 解析成封闭的入站事件集合，
// 不认识的形状一律回 error 事件，不做任何状态变更。
func (c *Client) dispatch(data []byte) {
	var head inboundHead
	if err := json.Unmarshal(data, &head); err != nil {
		c.trySend(errorPayload("invalid payload"))
		return
	}
	switch head.Type {
	case evtUserJoin:
		var p joinPayload
		if err := json.Unmarshal(data, &p); err != nil {
			c.trySend(errorPayload("invalid payload"))
			return
		}
		c.handleJoin()
	case evtChatMessage:
		var p chatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			c.trySend(errorPayload("invalid payload"))
			return
		}
		c.handleChatMessage(strings.TrimSpace(p.Message))
	case evtCreateRoom:
		var p createRoomPayload
		if err := json.Unmarshal(data, &p); err != nil {
			c.trySend(errorPayload("invalid payload"))
			return
		}
		c.handleCreateRoom(strings.TrimSpace(p.Name), strings.TrimSpace(p.Description), p.IsPrivate)
	case evtSwitchRoom:
		var p roomIDPayload
		if err := json.Unmarshal(data, &p); err != nil || p.RoomID == 0 {
			c.trySend(errorPayload("invalid payload"))
			return
		}
		c.handleSwitchRoom(p.RoomID)
	case evtDeleteRoom:
		var p roomIDPayload
		if err := json.Unmarshal(data, &p); err != nil || p.RoomID == 0 {
			c.trySend(errorPayload("invalid payload"))
			return
		}
		c.handleDeleteRoom(p.RoomID)
	case evtListRooms:
		c.handleListRooms()
	default:
		c.trySend(errorPayload("unknown event type"))
	}
}

// handleJoin 把未绑定的连接绑到默认房间并回历史快照。
// 重复 join 是幂等的：只重发当前房间的快照，不重复注册。
func (c *Client) handleJoin() {
	if rh := c.room.Load(); rh != nil {
		c.trySend(encode(chatHistoryEvent{
			Type:     "chat_history",
			Messages: c.hub.recentHistory(rh.room.ID),
			RoomID:   rh.room.ID,
		}))
		return
	}
	defaultRoom := c.roomSvc.DefaultRoom()
	rh, err := c.hub.GetRoom(defaultRoom)
	if err != nil {
		log.Error().Err(err).Str("conn_id", c.id).Msg("join default room")
		c.trySend(errorPayload("failed to join"))
		return
	}
	c.room.Store(rh)
	rh.register <- c
	c.trySend(encode(chatHistoryEvent{
		Type:     "chat_history",
		Messages: c.hub.recentHistory(defaultRoom.ID),
		RoomID:   defaultRoom.ID,
	}))
}

func (c *Client) handleChatMessage(content string) {
	if content == "" {
		return
	}
	rh := c.room.Load()
	if rh == nil {
		c.trySend(errorPayload("join a room first"))
		return
	}
	select {
	case rh.publish <- publishRequest{author: c, content: content}:
	case <-rh.done:
		c.trySend(errorPayload("room no longer exists"))
	}
}

func (c *Client) handleCreateRoom(name, description string, isPrivate bool) {
	if name == "" || len(name) > 128 {
		c.trySend(errorPayload("invalid room name"))
		return
	}
	room, err := c.roomSvc.Create(c.ctx(), c.userID, name, description, isPrivate)
	if err != nil {
		c.trySend(errorPayload(eventErrorMessage(err)))
		return
	}
	dto := roomDTO(*room, 0)
	c.trySend(encode(roomCreatedEvent{
		Type:    "room_created",
		Room:    dto,
		Message: fmt.Sprintf("Room '%s' created successfully", room.Name),
	}))
	c.hub.NotifyRoomCreated(*room, c)
}

func (c *Client) handleSwitchRoom(roomID uint) {
	old := c.room.Load()
	if old == nil {
		c.trySend(errorPayload("join a room first"))
		return
	}
	room, err := c.roomSvc.EnsureJoinable(c.ctx(), c.userID, roomID)
	if err != nil {
		c.trySend(errorPayload(eventErrorMessage(err)))
		return
	}
	snapshot := c.hub.recentHistory(room.ID)
	if old.room.ID == room.ID {
		c.trySend(encode(roomSwitchedEvent{Type: "room_switched", Room: roomDTO(*room, old.Online()), Messages: snapshot}))
		return
	}
	next, err := c.hub.GetRoom(*room)
	if err != nil {
		log.Error().Err(err).Str("conn_id", c.id).Uint("room_id", roomID).Msg("switch room")
		c.trySend(errorPayload("failed to switch room"))
		return
	}
	// 目标房间可能在校验之后刚被删除，GetRoom 会按旧元数据复活一个目录里
	// 已不存在的房间，这里再确认一次并把复活的实例清掉。
	if _, err := c.roomSvc.Get(c.ctx(), room.ID); err != nil {
		_ = c.hub.CloseRoom(room.ID, c.roomSvc.DefaultRoom())
		c.trySend(errorPayload(eventErrorMessage(err)))
		return
	}
	select {
	case old.unregister <- c:
	case <-old.done:
		// 旧房间在切换途中被删除，其事件循环退出前已把本连接迁进默认房间。
		// 先从迁入的房间注销，保证同一时刻只挂在一个房间里。
		if cur := c.room.Load(); cur != nil && cur != old && cur != next {
			select {
			case cur.unregister <- c:
			case <-cur.done:
			}
		}
	}
	c.room.Store(next)
	select {
	case next.register <- c:
	case <-next.done:
		c.room.Store(nil)
		c.trySend(errorPayload("room no longer exists"))
		return
	}
	c.trySend(encode(roomSwitchedEvent{Type: "room_switched", Room: roomDTO(*room, next.Online()), Messages: snapshot}))
}

func (c *Client) handleDeleteRoom(roomID uint) {
	room, err := c.roomSvc.Delete(c.ctx(), c.userID, roomID)
	if err != nil {
		c.trySend(errorPayload(eventErrorMessage(err)))
		return
	}
	if err := c.hub.CloseRoom(roomID, c.roomSvc.DefaultRoom()); err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("close deleted room")
	}
	c.hub.NotifyRoomDeleted(*room)
}

func (c *Client) handleListRooms() {
	rooms, err := c.roomSvc.ListVisible(c.ctx(), c.userID)
	if err != nil {
		c.trySend(errorPayload("failed to list rooms"))
		return
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomDTO(r, c.hub.Online(r.ID)))
	}
	c.trySend(encode(roomListEvent{Type: "room_list", Rooms: out}))
}

func (c *Client) ctx() context.Context {
	return context.Background()
}

// eventErrorMessage 把业务错误映射成对客户端可见的文案，其余错误不外泄细节。
func eventErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrRoomExists),
		errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrDefaultRoom):
		return err.Error()
	default:
		log.Error().Err(err).Msg("ws request failed")
		return "internal error"
	}
}
