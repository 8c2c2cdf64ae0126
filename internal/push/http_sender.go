package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cofounder-chat/internal/platform/logger"
	"cofounder-chat/internal/platform/metrics"
	"cofounder-chat/internal/storage/database/user"
)

// HTTPSender 透過 HTTP API 發送推送通知（FCM 樣式的外部推送服務）
type HTTPSender struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSender 創建 HTTP 推送發送器
// API 憑證從環境變數 PUSH_API_KEY 讀取，不放配置文件
func NewHTTPSender(endpoint string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		apiKey:   os.Getenv("PUSH_API_KEY"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type pushRequest struct {
	Token        string            `json:"token"`
	Notification *Notification     `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// Notify 發送推送通知
// 目標沒有推送 token 時靜默跳過，用戶可能從未授權通知
func (s *HTTPSender) Notify(ctx context.Context, target *user.PushTarget, n *Notification) error {
	if target == nil || target.PushToken == "" {
		metrics.PushNotifications.WithLabelValues("skipped").Inc()
		return nil
	}

	body, err := json.Marshal(pushRequest{
		Token:        target.PushToken,
		Notification: n,
		Data:         n.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.PushNotifications.WithLabelValues("error").Inc()
		return fmt.Errorf("push request failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.PushNotifications.WithLabelValues("error").Inc()
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}

	metrics.PushNotifications.WithLabelValues("sent").Inc()
	logger.Info(ctx, "推送通知已發送",
		logger.WithUserID(target.UserID),
		logger.WithAction("push_notify"),
	)
	return nil
}

// LogProvider 僅記錄日誌的推送通道，推送服務未配置時使用
type LogProvider struct{}

// Notify 記錄本應發送的通知
func (LogProvider) Notify(ctx context.Context, target *user.PushTarget, n *Notification) error {
	if target == nil || target.PushToken == "" {
		return nil
	}
	metrics.PushNotifications.WithLabelValues("logged").Inc()
	logger.Info(ctx, "推送服務未啟用，通知僅記錄",
		logger.WithUserID(target.UserID),
		logger.WithDetails(map[string]interface{}{"title": n.Title}),
	)
	return nil
}
