package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:128;not null"`
	Description string `gorm:"type:text"`
	CreatorID   *uint  `gorm:"index"`
	IsPrivate   bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// 房间成员角色。
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Membership struct {
	RoomID    uint   `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint   `gorm:"primaryKey;autoIncrement:false"`
	Role      string `gorm:"size:20;not null;default:member"`
	CreatedAt time.Time
}

// Message 的 UserID 为空表示 AI 消息，TriggeredBy 记录触发该回复的用户。
// Seq 为房间内单调递增的序号，由广播路径在持久化前分配。
type Message struct {
	ID          uint   `gorm:"primaryKey"`
	RoomID      uint   `gorm:"uniqueIndex:idx_msg_room_seq,priority:1;not null"`
	Seq         uint64 `gorm:"uniqueIndex:idx_msg_room_seq,priority:2;not null"`
	UserID      *uint  `gorm:"index"`
	Content     string `gorm:"type:text;not null"`
	IsAI        bool   `gorm:"not null;default:false"`
	TriggeredBy *uint
	CreatedAt   time.Time `gorm:"index"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
