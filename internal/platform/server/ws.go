package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cofounder-chat/internal/chat/hub"
	"cofounder-chat/internal/constants"
	"cofounder-chat/internal/platform/logger"
	"cofounder-chat/internal/platform/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.DefaultWSReadBufferSize,
	WriteBufferSize: constants.DefaultWSWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		// 瀏覽器端的來源控制由 CORS 層處理，握手階段放行
		return true
	},
}

// serveChat WebSocket 聊天端點
// 升級前驗證身份參數，升級後讀寫循環接管連接
func (h *apiHandler) serveChat(c *gin.Context) {
	userID := c.Query("user_id")
	if err := middleware.ValidateUserID(userID); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.LogErrorf("WebSocket 升級失敗: %v", err)
		return
	}

	ctx := c.Request.Context()
	client, err := hub.NewClient(ctx, h.engine, conn, userID)
	if err != nil {
		logger.LogErrorf("連接登記失敗: %v", err)
		conn.Close()
		return
	}

	// 讀寫循環阻塞到連接結束
	client.Run(ctx)
}
