package server

import (
	"strconv"
	"time"

	"cofounder-chat/internal/chat/delivery"
	"cofounder-chat/internal/chat/event"
	"cofounder-chat/internal/chat/presence"
	"cofounder-chat/internal/httputil"
	"cofounder-chat/internal/platform/config"
	"cofounder-chat/internal/platform/health"
	"cofounder-chat/internal/platform/metrics"
	"cofounder-chat/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 啟用 XSS 保護
		c.Header("X-XSS-Protection", "1; mode=block")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; connect-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// 權限政策
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		c.Next()
	}
}

// Router 設定路由
func Router(engine *delivery.Engine) *gin.Engine {
	r := gin.Default()

	// 添加安全的 CORS 中間件
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// 只允許特定的來源（生產環境應該從配置文件讀取）
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true, // 開發環境前端
			"http://localhost:8080": true, // 本地測試
			"http://127.0.0.1:8080": true, // 本地測試 (127.0.0.1)
		}

		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400") // 預檢請求緩存 24 小時

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 從配置讀取限制參數
	cfg := config.Get()

	// 創建 Rate Limiter
	defaultLimit := 100
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	// 為不同端點設置不同的速率限制
	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/messages", cfg.Limits.RateLimiting.MessagesPerMin, time.Minute)
		}
	}

	// 應用 Rate Limiting 中間件
	r.Use(rateLimiter.Middleware())

	// 創建處理器
	healthHandler := health.NewHealthHandler()
	h := &apiHandler{engine: engine}

	// health check
	r.GET("/health", healthHandler.HealthCheck)

	// prometheus metrics
	r.GET("/metrics", metrics.Handler())

	// WebSocket 聊天端點
	r.GET("/ws/chat", h.serveChat)

	// 消息 API 路由
	r.POST("/api/v1/messages", h.sendMessage)
	r.GET("/api/v1/messages", h.getConversation)
	r.GET("/api/v1/messages/unread", h.getUnread)
	r.GET("/api/v1/messages/:message_id", h.getMessage)

	return r
}

type apiHandler struct {
	engine *delivery.Engine
}

// restHandle 供 REST 發送路徑使用的虛擬連接，回執直接丟棄
type restHandle struct {
	id string
}

func (h *restHandle) ID() string                   { return h.id }
func (h *restHandle) Send(_ *event.Envelope) error { return nil }

var _ presence.Handle = (*restHandle)(nil)

// 發送消息（REST 途徑，服務端工具與測試使用）
func (h *apiHandler) sendMessage(c *gin.Context) {
	var req struct {
		SenderID    string `json:"sender_id"`
		RecipientID string `json:"recipient_id"`
		Content     string `json:"content"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if err := middleware.ValidateUserID(req.SenderID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	sanitizedContent := middleware.SanitizeInput(req.Content)

	err := h.engine.Send(c.Request.Context(), req.SenderID, &event.SendMessage{
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Content:     sanitizedContent,
	}, &restHandle{id: middleware.GetRequestID(c)})
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	c.JSON(200, httputil.Success("消息已送出"))
}

// 獲取兩用戶間的消息歷史
func (h *apiHandler) getConversation(c *gin.Context) {
	userID := c.Query("user_id")
	peerID := c.Query("peer_id")
	if userID == "" || peerID == "" {
		c.JSON(400, gin.H{"error": "缺少必要參數"})
		return
	}

	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	// 解析 limit，從配置讀取默認值
	cfg := config.Get()
	limit := 20
	if cfg != nil && cfg.Limits.MongoDB.DefaultQueryLimit > 0 {
		limit = cfg.Limits.MongoDB.DefaultQueryLimit
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	msgs, cursor, hasMore, err := h.engine.Conversation(c.Request.Context(), userID, peerID, limit, c.Query("cursor"))
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":     true,
		"data":        msgs,
		"next_cursor": cursor,
		"has_more":    hasMore,
	})
}

// 獲取按發送者分組的未讀摘要
func (h *apiHandler) getUnread(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(400, gin.H{"error": "缺少 user_id 參數"})
		return
	}

	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	groups, err := h.engine.UnreadSnapshot(c.Request.Context(), userID)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    groups,
	})
}

// 獲取單則消息，含投遞狀態
func (h *apiHandler) getMessage(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(400, gin.H{"error": "缺少 user_id 參數"})
		return
	}

	msg, err := h.engine.GetMessage(c.Request.Context(), userID, c.Param("message_id"))
	if err != nil {
		httputil.NotFoundError(c, "找不到消息")
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    msg,
	})
}
