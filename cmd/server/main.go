package main

import (
	"github.com/GeorgeZhiXu/AiChatBot/internal/ai"
	"github.com/GeorgeZhiXu/AiChatBot/internal/config"
	"github.com/GeorgeZhiXu/AiChatBot/internal/db"
	clog "github.com/GeorgeZhiXu/AiChatBot/internal/log"
	"github.com/GeorgeZhiXu/AiChatBot/internal/server"
	"github.com/GeorgeZhiXu/AiChatBot/internal/service"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
	"github.com/GeorgeZhiXu/AiChatBot/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// 加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	defaultRoom, err := db.EnsureDefaultRoom(gdb)
	if err != nil {
		log.Fatal().Err(err).Msg("ensure default room")
	}

	var provider ai.Provider
	if cfg.AIAPIKey != "" {
		p, err := ai.NewDeepSeekProvider(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("ai provider")
		}
		provider = p
	} else {
		log.Warn().Msg("DEEPSEEK_API_KEY not set, @AI mentions will be rejected")
	}

	history := store.NewGormHistoryStore(gdb)
	rooms := store.NewGormRoomStore(gdb)
	hub := ws.NewHub(history, provider, cfg)
	userSvc := service.NewUserService(gdb, cfg)
	roomSvc := service.NewRoomService(rooms, *defaultRoom)

	r := server.SetupRouter(cfg, gdb, hub, userSvc, roomSvc, history)
	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
