package middleware

import (
	"fmt"
	"strings"

	"cofounder-chat/internal/constants"
	"cofounder-chat/internal/platform/config"
)

// ValidateMessageContent 驗證訊息內容
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("訊息內容不能為空")
	}

	cfg := config.Get()
	maxLength := constants.DefaultMaxMessageLength
	if cfg != nil && cfg.Limits.Message.MaxLength > 0 {
		maxLength = cfg.Limits.Message.MaxLength
	}

	if len(content) > maxLength {
		return fmt.Errorf("訊息內容超過最大長度限制 (%d 字符)", maxLength)
	}

	// 防止 NULL 字符注入
	if strings.Contains(content, "\x00") {
		return fmt.Errorf("訊息內容包含非法字符")
	}

	return nil
}

// ValidateUserID 驗證用戶 ID 格式
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("用戶 ID 不能為空")
	}

	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("用戶 ID 格式錯誤")
	}

	// 防止 NULL 字符注入和特殊字符
	if strings.ContainsAny(userID, "\x00${}[]") {
		return fmt.Errorf("用戶 ID 包含非法字符")
	}

	return nil
}

// ValidateMessageID 驗證消息 ID 格式（MongoDB ObjectID）
func ValidateMessageID(messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("消息 ID 不能為空")
	}

	// MongoDB ObjectID 長度為 24 個十六進制字符
	if len(messageID) != 24 {
		return fmt.Errorf("消息 ID 格式錯誤")
	}

	// 只允許十六進制字符
	for _, c := range messageID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return fmt.Errorf("消息 ID 格式錯誤")
		}
	}

	return nil
}

// ValidateMessageIDs 驗證消息 ID 批次
func ValidateMessageIDs(messageIDs []string) error {
	if len(messageIDs) == 0 {
		return fmt.Errorf("消息 ID 列表不能為空")
	}

	cfg := config.Get()
	maxBatch := constants.MaxMessageIDsPerSeen
	if cfg != nil && cfg.Limits.Message.MaxSeenBatch > 0 {
		maxBatch = cfg.Limits.Message.MaxSeenBatch
	}

	if len(messageIDs) > maxBatch {
		return fmt.Errorf("消息 ID 數量超過批次上限 (%d)", maxBatch)
	}

	for _, id := range messageIDs {
		if err := ValidateMessageID(id); err != nil {
			return err
		}
	}

	return nil
}

// SanitizeInput 消毒輸入（移除危險字符）
func SanitizeInput(input string) string {
	// 移除 NULL 字符
	input = strings.ReplaceAll(input, "\x00", "")

	// 移除控制字符（除了換行和 Tab）
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
