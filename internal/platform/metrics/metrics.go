package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 消息核心的 Prometheus 指標
var (
	// ActiveConnections 當前活躍的 WebSocket 連接數
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cofounder_chat",
		Name:      "active_connections",
		Help:      "Number of active websocket connections.",
	})

	// OnlineUsers 當前在線用戶數（至少一個 handle）
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cofounder_chat",
		Name:      "online_users",
		Help:      "Number of users with at least one active connection.",
	})

	// MessagesSent 已持久化的消息總數
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofounder_chat",
		Name:      "messages_sent_total",
		Help:      "Total number of messages persisted.",
	})

	// MessagesDelivered 已送達的消息總數（即時推送與重連補發）
	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cofounder_chat",
		Name:      "messages_delivered_total",
		Help:      "Total number of messages delivered, by path (live or drain).",
	}, []string{"path"})

	// MessagesQueued 交付重試佇列的消息總數
	MessagesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofounder_chat",
		Name:      "messages_queued_total",
		Help:      "Total number of messages handed to the retry queue.",
	})

	// MessagesFailed 重試耗盡後標記為失敗的消息總數
	MessagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofounder_chat",
		Name:      "messages_failed_total",
		Help:      "Total number of messages marked failed after exhausting retries.",
	})

	// PushNotifications 推播通知請求總數
	PushNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cofounder_chat",
		Name:      "push_notifications_total",
		Help:      "Total number of push notification requests, by result.",
	}, []string{"result"})
)

// Handler 回傳 Prometheus 指標的 gin 處理器
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
