package db

import (
	"time"

	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultRoomName 是进程启动即存在且不可删除的默认房间。
const DefaultRoomName = "General"

// Connect 建立到 Postgres 的连接，带简单重试以等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Membership{},
		&models.Message{},
		&models.RefreshToken{},
	)
}

// EnsureDefaultRoom 保证默认房间存在，并发启动时依赖 name 唯一索引兜底。
func EnsureDefaultRoom(gdb *gorm.DB) (*models.Room, error) {
	var room models.Room
	err := gdb.Where("name = ?", DefaultRoomName).First(&room).Error
	if err == nil {
		return &room, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	room = models.Room{Name: DefaultRoomName, Description: "Default chat room for everyone", IsPrivate: false}
	if err := gdb.Create(&room).Error; err != nil {
		// 另一个实例可能刚创建完，重查一次。
		if err2 := gdb.Where("name = ?", DefaultRoomName).First(&room).Error; err2 == nil {
			return &room, nil
		}
		return nil, err
	}
	return &room, nil
}
