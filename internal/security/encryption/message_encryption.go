package encryption

import (
	"fmt"
	"log"
)

const plaintextPrefix = "plaintext:"

// MessageEncryption 消息加密服務
// 使用 AES-256-CTR 加密模式 + 對話密鑰管理器
type MessageEncryption struct {
	enabled bool
	keys    *ConversationKeys
}

// NewMessageEncryption 創建消息加密服務
func NewMessageEncryption(enabled bool, keys *ConversationKeys) *MessageEncryption {
	if keys == nil {
		log.Println("[WARNING] ConversationKeys is nil. Encryption will be disabled.")
		enabled = false
	}

	return &MessageEncryption{
		enabled: enabled,
		keys:    keys,
	}
}

// EncryptMessage 加密消息內容
func (m *MessageEncryption) EncryptMessage(content, senderID, recipientID string) (string, error) {
	if !m.enabled {
		log.Println("[WARNING] Message encryption is DISABLED. Messages are stored in PLAIN TEXT!")
		return plaintextPrefix + content, nil
	}

	key, err := m.keys.KeyFor(senderID, recipientID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation key: %w", err)
	}

	aesCTR, err := NewAESCTREncryption(key)
	if err != nil {
		return "", fmt.Errorf("failed to create encryptor: %w", err)
	}

	encrypted, err := aesCTR.Encrypt(content)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}

	return encrypted, nil
}

// DecryptMessage 解密消息內容
// 帶 plaintext 前綴的舊消息直接去前綴回傳，不帶任何前綴的視為明文
func (m *MessageEncryption) DecryptMessage(content, senderID, recipientID string) (string, error) {
	if len(content) >= len(plaintextPrefix) && content[:len(plaintextPrefix)] == plaintextPrefix {
		return content[len(plaintextPrefix):], nil
	}

	if !IsEncrypted(content) {
		return content, nil
	}

	if m.keys == nil {
		return "", fmt.Errorf("conversation keys not initialized")
	}

	key, err := m.keys.KeyFor(senderID, recipientID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation key: %w", err)
	}

	aesCTR, err := NewAESCTREncryption(key)
	if err != nil {
		return "", fmt.Errorf("failed to create decryptor: %w", err)
	}

	decrypted, err := aesCTR.Decrypt(content)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return decrypted, nil
}
