// Package hub WebSocket 連接生命週期。
// 每條連接一讀一寫兩個 goroutine，寫入只經過帶緩衝的發送通道，
// 引擎透過 presence.Handle 接口對連接推送事件。
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cofounder-chat/internal/chat/delivery"
	"cofounder-chat/internal/chat/event"
	"cofounder-chat/internal/constants"
	"cofounder-chat/internal/platform/config"
	"cofounder-chat/internal/platform/logger"
)

// ErrSendBufferFull 連接的發送緩衝已滿
var ErrSendBufferFull = errors.New("connection send buffer is full")

// ErrClientClosed 連接已關閉
var ErrClientClosed = errors.New("connection is closed")

// Client 一條 WebSocket 連接
type Client struct {
	engine *delivery.Engine
	conn   *websocket.Conn
	userID string
	id     string

	send      chan *event.Envelope
	closeOnce sync.Once
	closed    chan struct{}

	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingInterval time.Duration
	maxMsgSize   int64
}

// NewClient 創建連接並向投遞引擎登記
func NewClient(ctx context.Context, engine *delivery.Engine, conn *websocket.Conn, userID string) (*Client, error) {
	c := &Client{
		engine: engine,
		conn:   conn,
		userID: userID,
		id:     uuid.NewString(),
		closed: make(chan struct{}),
	}
	c.applyLimits()

	if err := engine.Connected(ctx, userID, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) applyLimits() {
	buffer := constants.DefaultWSSendChannelBuffer
	c.writeTimeout = time.Duration(constants.DefaultWSWriteTimeoutSec) * time.Second
	c.pongTimeout = time.Duration(constants.DefaultWSPongTimeoutSec) * time.Second
	c.pingInterval = time.Duration(constants.DefaultWSPingIntervalSec) * time.Second
	c.maxMsgSize = constants.DefaultWSMaxMessageSize

	if cfg := config.Get(); cfg != nil {
		ws := cfg.Limits.WebSocket
		if ws.SendChannelBuffer > 0 {
			buffer = ws.SendChannelBuffer
		}
		if ws.WriteTimeout > 0 {
			c.writeTimeout = time.Duration(ws.WriteTimeout) * time.Second
		}
		if ws.PongTimeout > 0 {
			c.pongTimeout = time.Duration(ws.PongTimeout) * time.Second
		}
		if ws.PingInterval > 0 {
			c.pingInterval = time.Duration(ws.PingInterval) * time.Second
		}
		if ws.MaxMessageSize > 0 {
			c.maxMsgSize = int64(ws.MaxMessageSize)
		}
	}
	c.send = make(chan *event.Envelope, buffer)
}

// ID 連接識別碼
func (c *Client) ID() string {
	return c.id
}

// UserID 連接所屬用戶
func (c *Client) UserID() string {
	return c.userID
}

// Send 將事件排入發送通道
// 緩衝滿代表連接已經跟不上，回傳錯誤讓呼叫方走重試或補發路徑
func (c *Client) Send(env *event.Envelope) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run 啟動讀寫循環，阻塞直到連接關閉
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// readPump 讀取並分派客戶端事件
// 離開時向引擎註銷連接，最後一條連接離開會讓用戶轉為離線
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.engine.Disconnected(ctx, c.userID, c.id)
	}()

	c.conn.SetReadLimit(c.maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warning(ctx, "連接異常關閉",
					logger.WithUserID(c.userID),
					logger.WithDetails(map[string]interface{}{"error": err.Error()}),
				)
			}
			return
		}
		c.dispatch(ctx, raw)
	}
}

func (c *Client) dispatch(ctx context.Context, raw []byte) {
	parsed, err := event.ParseClient(raw)
	if err != nil {
		c.Send(event.MustNew(event.ErrorEvent, &event.Error{Message: err.Error()}))
		return
	}

	switch req := parsed.(type) {
	case *event.SendMessage:
		if err := c.engine.Send(ctx, c.userID, req, c); err != nil {
			logger.Warning(ctx, "消息發送失敗",
				logger.WithUserID(c.userID),
				logger.WithRecipientID(req.RecipientID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}),
			)
			c.Send(event.MustNew(event.MessageFailedEvent, &event.Failed{Error: err.Error()}))
		}
	case *event.MessageSeen:
		if err := c.engine.MarkSeen(ctx, c.userID, req, c); err != nil {
			logger.Warning(ctx, "已讀標記失敗",
				logger.WithUserID(c.userID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}),
			)
			c.Send(event.MustNew(event.ErrorEvent, &event.Error{Message: err.Error()}))
		}
	}
}

// writePump 將發送通道的事件寫入連接，並定期發送 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
