package service

import "errors"

// 业务层通用错误，handler 和 ws 分发层据此映射 HTTP 状态码或 error 事件。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomExists         = errors.New("room name already exists")
	ErrForbidden          = errors.New("not a member of this private room")
	ErrDefaultRoom        = errors.New("cannot delete default room")
)
