package store

import (
	"context"
	"errors"
	"strings"

	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AIUsername 是 AI 消息在视图里展示的用户名，与流式事件里的保持一致。
const AIUsername = "AI Assistant"

// GormHistoryStore 基于 gorm/Postgres 实现 HistoryStore。
type GormHistoryStore struct {
	db *gorm.DB
}

func NewGormHistoryStore(db *gorm.DB) *GormHistoryStore {
	return &GormHistoryStore{db: db}
}

func (s *GormHistoryStore) Append(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *GormHistoryStore) Recent(ctx context.Context, roomID uint, limit int) ([]MessageView, error) {
	return s.Page(ctx, roomID, limit, 0)
}

func (s *GormHistoryStore) Page(ctx context.Context, roomID uint, limit int, beforeID uint) ([]MessageView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	err := q.Order("seq desc").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	usernames, err := s.resolveUsernames(ctx, msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, View(m, usernames))
	}
	return out, nil
}

func (s *GormHistoryStore) LastSeq(ctx context.Context, roomID uint) (uint64, error) {
	var seq uint64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ?", roomID).
		Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error
	return seq, err
}

// View 把存储模型转成对外视图，AI 消息用统一的展示名。
func View(m models.Message, usernames map[uint]string) MessageView {
	name := AIUsername
	if !m.IsAI && m.UserID != nil {
		name = usernames[*m.UserID]
	}
	return MessageView{
		ID:          m.ID,
		RoomID:      m.RoomID,
		Seq:         m.Seq,
		UserID:      m.UserID,
		Username:    name,
		Content:     m.Content,
		IsAI:        m.IsAI,
		TriggeredBy: m.TriggeredBy,
		Timestamp:   m.CreatedAt,
	}
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *GormHistoryStore) resolveUsernames(ctx context.Context, msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if m.UserID == nil {
			continue
		}
		if _, ok := seen[*m.UserID]; ok {
			continue
		}
		seen[*m.UserID] = struct{}{}
		userIDs = append(userIDs, *m.UserID)
	}
	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}

// GormRoomStore 基于 gorm/Postgres 实现 RoomStore。
type GormRoomStore struct {
	db *gorm.DB
}

func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	return &GormRoomStore{db: db}
}

func (s *GormRoomStore) Create(ctx context.Context, room *models.Room, creatorID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			if isDuplicateErr(err) {
				return ErrDuplicate
			}
			return err
		}
		m := models.Membership{RoomID: room.ID, UserID: creatorID, Role: models.RoleAdmin}
		return tx.Create(&m).Error
	})
}

func (s *GormRoomStore) GetByID(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *GormRoomStore) ListVisible(ctx context.Context, userID uint) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Where("is_private = ?", false).
		Or("id IN (?)", s.db.Model(&models.Membership{}).Select("room_id").Where("user_id = ?", userID)).
		Order("id").
		Find(&rooms).Error
	return rooms, err
}

func (s *GormRoomStore) Delete(ctx context.Context, roomID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Room{}, roomID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormRoomStore) Membership(ctx context.Context, roomID, userID uint) (*models.Membership, error) {
	var m models.Membership
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *GormRoomStore) AddMember(ctx context.Context, roomID, userID uint, role string) error {
	m := models.Membership{RoomID: roomID, UserID: userID, Role: role}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&m).Error
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Postgres unique_violation
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}
