package server

import (
	"github.com/GeorgeZhiXu/AiChatBot/internal/auth"
	"github.com/GeorgeZhiXu/AiChatBot/internal/config"
	"github.com/GeorgeZhiXu/AiChatBot/internal/metrics"
	"github.com/GeorgeZhiXu/AiChatBot/internal/mw"
	"github.com/GeorgeZhiXu/AiChatBot/internal/service"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
	"github.com/GeorgeZhiXu/AiChatBot/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, gdb *gorm.DB, hub *ws.Hub, userSvc *service.UserService, roomSvc *service.RoomService, history store.HistoryStore) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	r.Use(mw.RateLimit(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))

	h := NewHandler(userSvc, roomSvc, history, hub)

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, gdb))
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.DELETE("/rooms/:id", h.DeleteRoom)
	authed.GET("/rooms/:id/messages", h.ListMessages)

	r.GET("/ws", ws.Serve(hub, roomSvc, gdb, cfg))

	r.Static("/app", "./web")
	return r
}
