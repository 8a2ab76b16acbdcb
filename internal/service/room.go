package service

import (
	"context"
	"errors"

	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
)

// RoomService 封装房间目录的业务逻辑：创建、可见性、删除权限与默认房间保护。
type RoomService struct {
	rooms       store.RoomStore
	defaultRoom models.Room
}

func NewRoomService(rooms store.RoomStore, defaultRoom models.Room) *RoomService {
	return &RoomService{rooms: rooms, defaultRoom: defaultRoom}
}

// DefaultRoom 返回启动时注入的默认房间。
func (s *RoomService) DefaultRoom() models.Room {
	return s.defaultRoom
}

// Create 创建新房间，创建者自动成为 admin 成员。房间名全局唯一。
func (s *RoomService) Create(ctx context.Context, creatorID uint, name, description string, isPrivate bool) (*models.Room, error) {
	room := &models.Room{Name: name, Description: description, CreatorID: &creatorID, IsPrivate: isPrivate}
	if err := s.rooms.Create(ctx, room, creatorID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrRoomExists
		}
		return nil, err
	}
	return room, nil
}

// ListVisible 返回用户可见的房间：全部公开房间加自己是成员的私有房间。
func (s *RoomService) ListVisible(ctx context.Context, userID uint) ([]models.Room, error) {
	return s.rooms.ListVisible(ctx, userID)
}

// Get 按 ID 查找房间。
func (s *RoomService) Get(ctx context.Context, roomID uint) (*models.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// EnsureJoinable 校验用户能否进入房间：私有房间要求已有成员身份，
// 公开房间首次进入时自动补一条 member 成员记录。
func (s *RoomService) EnsureJoinable(ctx context.Context, userID, roomID uint) (*models.Room, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsPrivate {
		if _, err := s.rooms.Membership(ctx, roomID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrForbidden
			}
			return nil, err
		}
		return room, nil
	}
	if err := s.rooms.AddMember(ctx, roomID, userID, models.RoleMember); err != nil {
		return nil, err
	}
	return room, nil
}

// Delete 删除房间：默认房间永远拒绝，其余要求请求者是该房间的 admin。
// 返回被删除的房间供通知事件使用。
func (s *RoomService) Delete(ctx context.Context, requesterID, roomID uint) (*models.Room, error) {
	if roomID == s.defaultRoom.ID {
		return nil, ErrDefaultRoom
	}
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m, err := s.rooms.Membership(ctx, roomID, requesterID)
	if err != nil || m.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if err := s.rooms.Delete(ctx, roomID); err != nil {
		return nil, err
	}
	return room, nil
}
