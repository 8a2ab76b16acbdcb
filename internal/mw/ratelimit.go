package mw

// 基于 IP+路由 的令牌桶限速，挡住单个客户端刷爆注册、登录等 REST 接口。

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter 按访问键维护一组令牌桶，长时间不活跃的桶由后台定期清理。
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	stop     chan struct{}
}

func NewLimiter(rps rate.Limit, burst int, idleTTL time.Duration) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		rps:      rps,
		burst:    burst,
		idleTTL:  idleTTL,
		stop:     make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow 消耗 key 对应桶里的一个令牌，没有令牌时返回 false。
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.lim.Allow()
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idleTTL)
			l.mu.Lock()
			for key, v := range l.visitors {
				if v.lastSeen.Before(cutoff) {
					delete(l.visitors, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop 停止后台清理 goroutine，用于优雅停服。
func (l *Limiter) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// RateLimit 按客户端 IP 和路由模板限速，超出直接回 429。
func RateLimit(rps rate.Limit, burst int) gin.HandlerFunc {
	l := NewLimiter(rps, burst, 3*time.Minute)
	return func(c *gin.Context) {
		key := clientIP(c.Request.RemoteAddr) + "|" + routeKey(c)
		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// routeKey 优先用路由模板做键，同一路由的不同参数共享一个桶。
func routeKey(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
