package api

import (
	"encoding/json"
	"log"

	"receipts/database"

	"github.com/gin-gonic/gin"
)

// snapshotEvent SSE 帧内容
type snapshotEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Msg  string      `json:"message,omitempty"`
}

func startEventStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // 禁用nginx缓冲
}

func writeEvent(c *gin.Context, event snapshotEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("序列化推送数据失败: %v", err)
		return false
	}
	if _, err := c.Writer.WriteString("data: " + string(data) + "\n\n"); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// streamSnapshots 将订阅的每个快照写为一帧，客户端断开或订阅结束时返回
func streamSnapshots[T any](c *gin.Context, sub *database.Subscription[T], render func([]T) (interface{}, error)) {
	defer sub.Close()
	startEventStream(c)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-sub.Snapshots():
			if !ok {
				if err := sub.Err(); err != nil {
					writeEvent(c, snapshotEvent{Type: "error", Msg: SafeErrorMessage(err, "同步失败")})
				}
				return
			}
			payload, err := render(snapshot)
			if err != nil {
				writeEvent(c, snapshotEvent{Type: "error", Msg: SafeErrorMessage(err, "同步失败")})
				continue
			}
			if !writeEvent(c, snapshotEvent{Type: "snapshot", Data: payload}) {
				return
			}
		}
	}
}
