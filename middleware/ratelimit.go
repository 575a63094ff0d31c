package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// slidingWindow 按 key 记录窗口内的请求时间
type slidingWindow struct {
	mu          sync.Mutex
	window      time.Duration
	maxAttempts int
	hits        map[string][]time.Time
}

func newSlidingWindow(maxAttempts int, window time.Duration) *slidingWindow {
	w := &slidingWindow{
		window:      window,
		maxAttempts: maxAttempts,
		hits:        make(map[string][]time.Time),
	}
	go w.cleanupLoop()
	return w
}

// allow 记录一次请求，超过上限返回 false
func (w *slidingWindow) allow(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := prune(w.hits[key], now.Add(-w.window))
	if len(kept) >= w.maxAttempts {
		w.hits[key] = kept
		return false
	}
	w.hits[key] = append(kept, now)
	return true
}

func (w *slidingWindow) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		w.mu.Lock()
		cutoff := time.Now().Add(-w.window)
		for key, ts := range w.hits {
			if kept := prune(ts, cutoff); len(kept) == 0 {
				delete(w.hits, key)
			} else {
				w.hits[key] = kept
			}
		}
		w.mu.Unlock()
	}
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func abortTooManyRequests(c *gin.Context, message string) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"code":    http.StatusTooManyRequests,
		"message": message,
	})
	c.Abort()
}

// AuthRateLimit 登录/注册接口限流，每 IP 在窗口内最多 maxAttempts 次
func AuthRateLimit(maxAttempts int, window time.Duration) gin.HandlerFunc {
	limiter := newSlidingWindow(maxAttempts, window)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP(), time.Now()) {
			abortTooManyRequests(c, "尝试过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}

// ScanRateLimit 小票识别限流，按登录用户计数，需放在 JWTAuth 之后
func ScanRateLimit(maxScans int, window time.Duration) gin.HandlerFunc {
	limiter := newSlidingWindow(maxScans, window)
	return func(c *gin.Context) {
		key := GetCurrentUserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.allow(key, time.Now()) {
			abortTooManyRequests(c, "识别次数过多，请稍后再试")
			return
		}
		c.Next()
	}
}
