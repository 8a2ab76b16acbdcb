package store

import (
	"context"
	"errors"
	"time"

	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
)

// 存储层通用错误，上层用 errors.Is 判断。
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// MessageView 是带作者用户名的消息视图，供历史快照和广播使用。
type MessageView struct {
	ID          uint      `json:"id"`
	RoomID      uint      `json:"room_id"`
	Seq         uint64    `json:"seq"`
	UserID      *uint     `json:"user_id"`
	Username    string    `json:"username"`
	Content     string    `json:"content"`
	IsAI        bool      `json:"is_ai"`
	TriggeredBy *uint     `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// HistoryStore 是房间消息日志的抽象：追加与按序读取，别的核心都不关心存储细节。
type HistoryStore interface {
	// Append 持久化一条消息，回填 ID 和 CreatedAt。Seq 必须由调用方先分配好。
	Append(ctx context.Context, msg *models.Message) error
	// Recent 返回房间最近 limit 条消息，按 Seq 升序。
	Recent(ctx context.Context, roomID uint, limit int) ([]MessageView, error)
	// Page 按 beforeID 向前翻页（beforeID 为 0 表示从最新开始），按 Seq 升序返回。
	Page(ctx context.Context, roomID uint, limit int, beforeID uint) ([]MessageView, error)
	// LastSeq 返回房间当前最大的序号，空房间为 0。
	LastSeq(ctx context.Context, roomID uint) (uint64, error)
}

// RoomStore 是房间目录与成员关系的抽象。
type RoomStore interface {
	Create(ctx context.Context, room *models.Room, creatorID uint) error
	GetByID(ctx context.Context, roomID uint) (*models.Room, error)
	// ListVisible 返回全部公开房间加该用户是成员的私有房间。
	ListVisible(ctx context.Context, userID uint) ([]models.Room, error)
	// Delete 删除房间及其成员关系和消息。
	Delete(ctx context.Context, roomID uint) error
	Membership(ctx context.Context, roomID, userID uint) (*models.Membership, error)
	// AddMember 幂等地把用户加入房间。
	AddMember(ctx context.Context, roomID, userID uint, role string) error
}
