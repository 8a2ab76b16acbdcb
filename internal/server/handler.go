package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/GeorgeZhiXu/AiChatBot/internal/auth"
	"github.com/GeorgeZhiXu/AiChatBot/internal/service"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
	"github.com/GeorgeZhiXu/AiChatBot/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	roomSvc *service.RoomService
	history store.HistoryStore
	hub     *ws.Hub
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, history store.HistoryStore, hub *ws.Hub) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, history: history, hub: hub}
}

// Healthz 健康检查，顺带暴露在线人数和 AI 状态。
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"users_online": h.hub.OnlineTotal(),
		"ai_active":    h.hub.Streaming(),
	})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 校验用户名密码并返回 token 对。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// Refresh 旋转刷新 token 对。
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateRoom 通过 REST 创建房间（和 ws 的 create_room 等价）。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		IsPrivate   bool   `json:"is_private"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room name"})
		return
	}
	room, err := h.roomSvc.Create(c.Request.Context(), auth.GetUserID(c), req.Name, strings.TrimSpace(req.Description), req.IsPrivate)
	if err != nil {
		if errors.Is(err, service.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "room name already exists"})
			return
		}
		log.Error().Err(err).Str("name", req.Name).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	// ws 客户端的房间列表与 ws 入口保持一致的同步语义
	h.hub.NotifyRoomCreated(*room, nil)
	c.JSON(http.StatusOK, gin.H{"room": gin.H{
		"id":          room.ID,
		"name":        room.Name,
		"description": room.Description,
		"is_private":  room.IsPrivate,
	}})
}

// ListRooms 返回请求者可见的房间列表，附带在线人数。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.roomSvc.ListVisible(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	type roomDTO struct {
		ID          uint   `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		IsPrivate   bool   `json:"is_private"`
		Online      int    `json:"online"`
	}
	out := make([]roomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomDTO{ID: r.ID, Name: r.Name, Description: r.Description, IsPrivate: r.IsPrivate, Online: h.hub.Online(r.ID)})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// DeleteRoom 通过 REST 删除房间，语义与 ws 的 delete_room 一致。
func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("id"))
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	room, err := h.roomSvc.Delete(c.Request.Context(), auth.GetUserID(c), uint(roomID))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDefaultRoom):
			c.JSON(http.StatusConflict, gin.H{"error": "cannot delete default room"})
		case errors.Is(err, service.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "admin membership required"})
		default:
			log.Error().Err(err).Int("room_id", roomID).Msg("delete room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
		}
		return
	}
	if err := h.hub.CloseRoom(room.ID, h.roomSvc.DefaultRoom()); err != nil {
		log.Error().Err(err).Uint("room_id", room.ID).Msg("close deleted room")
	}
	h.hub.NotifyRoomDeleted(*room)
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID, "message": "room deleted"})
}

// ListMessages 分页查询指定房间的消息，按序号升序返回。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("id"))
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	beforeID := 0
	if v := c.Query("before_id"); v != "" {
		beforeID, _ = strconv.Atoi(v)
	}
	msgs, err := h.history.Page(c.Request.Context(), uint(roomID), limit, uint(beforeID))
	if err != nil {
		log.Error().Err(err).Int("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
