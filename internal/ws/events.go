package ws

import (
	"encoding/json"
	"time"

	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
	"github.com/rs/zerolog/log"
)

// 入站事件类型的封闭集合，未知类型一律按 ValidationError 处理。
const (
	evtUserJoin    = "user_join"
	evtChatMessage = "chat_message"
	evtCreateRoom  = "create_room"
	evtSwitchRoom  = "switch_room"
	evtDeleteRoom  = "delete_room"
	evtListRooms   = "list_rooms"
)

type inboundHead struct {
	Type string `json:"type"`
}

type joinPayload struct {
	Username string `json:"username"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type createRoomPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

type roomIDPayload struct {
	RoomID uint `json:"room_id"`
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	CreatedBy   *uint  `json:"created_by"`
	Online      int    `json:"online"`
}

func roomDTO(r models.Room, online int) RoomDTO {
	return RoomDTO{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsPrivate:   r.IsPrivate,
		CreatedBy:   r.CreatorID,
		Online:      online,
	}
}

type userJoinedEvent struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	UserCount int       `json:"user_count"`
	Timestamp time.Time `json:"timestamp"`
}

type userLeftEvent struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	UserCount int       `json:"user_count"`
	Timestamp time.Time `json:"timestamp"`
}

type chatHistoryEvent struct {
	Type     string              `json:"type"`
	Messages []store.MessageView `json:"messages"`
	RoomID   uint                `json:"room_id"`
}

type chatMessageEvent struct {
	Type string `json:"type"`
	store.MessageView
}

type roomListEvent struct {
	Type  string    `json:"type"`
	Rooms []RoomDTO `json:"rooms"`
}

type roomCreatedEvent struct {
	Type    string  `json:"type"`
	Room    RoomDTO `json:"room"`
	Message string  `json:"message"`
}

type roomListUpdatedEvent struct {
	Type   string  `json:"type"`
	Action string  `json:"action"`
	Room   RoomDTO `json:"room"`
}

type roomJoinedEvent struct {
	Type     string              `json:"type"`
	Room     RoomDTO             `json:"room"`
	Messages []store.MessageView `json:"messages"`
}

type roomSwitchedEvent struct {
	Type     string              `json:"type"`
	Room     RoomDTO             `json:"room"`
	Messages []store.MessageView `json:"messages"`
}

type roomDeletedEvent struct {
	Type    string `json:"type"`
	RoomID  uint   `json:"room_id"`
	Message string `json:"message"`
}

type aiResponseStartEvent struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
}

type aiResponseChunkEvent struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Chunk string `json:"chunk"`
}

type aiResponseEndEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type aiBusyEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type aiErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encode 序列化出站事件；事件结构都是本包定义的，失败属于编程错误，只记日志。
func encode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("ws encode event")
		return []byte(`{"type":"error","message":"internal error"}`)
	}
	return b
}

func errorPayload(msg string) []byte {
	return encode(errorEvent{Type: "error", Message: msg})
}
