package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// AI 相关配置，DeepSeek 走 OpenAI 兼容接口。
	AIAPIKey       string
	AIBaseURL      string
	AIModel        string
	AIContextSize  int
	AIIdleTimeoutS int

	// 加入/切换房间时返回的历史消息条数。
	HistoryLimit int

	// HTTP 层限速与跨域。
	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 从环境变量读取配置；本地开发可放一个 .env 文件。
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=aichat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		AIAPIKey:              getenv("DEEPSEEK_API_KEY", ""),
		AIBaseURL:             getenv("DEEPSEEK_API_BASE", "https://api.deepseek.com/v1"),
		AIModel:               getenv("AI_MODEL", "deepseek-chat"),
		AIContextSize:         getenvInt("AI_CONTEXT_WINDOW", 10),
		AIIdleTimeoutS:        getenvInt("AI_STREAM_IDLE_TIMEOUT_SECONDS", 30),
		HistoryLimit:          getenvInt("HISTORY_LIMIT", 50),
		RateLimitRPS:          getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:        getenvInt("RATE_LIMIT_BURST", 40),
		CORSOrigins:           splitList(getenv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// splitList 解析逗号分隔的列表，忽略空白项。
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
