package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const cipherPrefix = "aes256ctr:"

// AESCTREncryption AES-256-CTR 加密實現
// CTR 模式特點：
// - 將塊密碼轉換為流密碼
// - 不需要填充
// - 適合變長消息內容
type AESCTREncryption struct {
	key []byte // 256-bit (32 bytes) key
}

// NewAESCTREncryption 創建 AES-256-CTR 加密實例
func NewAESCTREncryption(key []byte) (*AESCTREncryption, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	// 防禦性複製密鑰
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	return &AESCTREncryption{
		key: keyCopy,
	}, nil
}

// Encrypt 加密數據
// 格式: "aes256ctr:" + base64(IV + ciphertext)
func (e *AESCTREncryption) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintextBytes := []byte(plaintext)
	ciphertext := make([]byte, len(plaintextBytes))

	// 每則消息使用新的隨機 IV，CTR 模式下重用 IV 會洩漏明文
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(ciphertext, plaintextBytes)

	// IV 放在密文前面一起存儲
	result := make([]byte, aes.BlockSize+len(ciphertext))
	copy(result[:aes.BlockSize], iv)
	copy(result[aes.BlockSize:], ciphertext)

	return cipherPrefix + base64.StdEncoding.EncodeToString(result), nil
}

// Decrypt 解密數據
func (e *AESCTREncryption) Decrypt(encryptedText string) (string, error) {
	if encryptedText == "" {
		return "", fmt.Errorf("encrypted text cannot be empty")
	}

	if len(encryptedText) < len(cipherPrefix) || encryptedText[:len(cipherPrefix)] != cipherPrefix {
		return "", fmt.Errorf("invalid ciphertext format: missing %q prefix", cipherPrefix)
	}

	data, err := base64.StdEncoding.DecodeString(encryptedText[len(cipherPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext too short: must be at least %d bytes", aes.BlockSize)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := data[:aes.BlockSize]
	ciphertext := data[aes.BlockSize:]

	plaintext := make([]byte, len(ciphertext))
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(plaintext, ciphertext)

	return string(plaintext), nil
}

// IsEncrypted 檢查文本是否已加密
func IsEncrypted(text string) bool {
	return len(text) >= len(cipherPrefix) && text[:len(cipherPrefix)] == cipherPrefix
}
