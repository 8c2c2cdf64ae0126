package encryption

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/hkdf"

	"cofounder-chat/internal/constants"
)

// ConversationKeys 對話密鑰管理器
// 每組用戶對（sender 與 recipient）用主密鑰透過 HKDF 導出獨立密鑰
// 導出是確定性的，服務重啟後不需要持久化密鑰即可解密歷史消息
type ConversationKeys struct {
	mu        sync.RWMutex
	masterKey []byte
	derived   map[string][]byte // 對話識別碼 -> 導出密鑰
}

// NewConversationKeys 創建對話密鑰管理器
func NewConversationKeys(masterKey []byte) (*ConversationKeys, error) {
	if len(masterKey) != constants.MasterKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes (256 bits), got %d bytes",
			constants.MasterKeyLength, len(masterKey))
	}

	keyCopy := make([]byte, len(masterKey))
	copy(keyCopy, masterKey)

	return &ConversationKeys{
		masterKey: keyCopy,
		derived:   make(map[string][]byte),
	}, nil
}

// LoadMasterKey 從環境變數讀取主密鑰（base64 編碼的 32 bytes）
func LoadMasterKey() ([]byte, error) {
	encoded := os.Getenv("MASTER_KEY")
	if encoded == "" {
		return nil, fmt.Errorf("MASTER_KEY environment variable not set")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MASTER_KEY: %w", err)
	}
	if len(key) != constants.MasterKeyLength {
		return nil, fmt.Errorf("MASTER_KEY must decode to %d bytes, got %d bytes",
			constants.MasterKeyLength, len(key))
	}

	return key, nil
}

// KeyFor 取得用戶對的對話密鑰，首次使用時導出並快取
// 識別碼與用戶順序無關，雙方導出同一把密鑰
func (ck *ConversationKeys) KeyFor(userA, userB string) ([]byte, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("user IDs cannot be empty")
	}

	id := conversationID(userA, userB)

	ck.mu.RLock()
	key, ok := ck.derived[id]
	ck.mu.RUnlock()
	if ok {
		return key, nil
	}

	ck.mu.Lock()
	defer ck.mu.Unlock()

	// Double-check，避免兩個連接同時導出
	if key, ok := ck.derived[id]; ok {
		return key, nil
	}

	derived := make([]byte, constants.MasterKeyLength)
	reader := hkdf.New(sha256.New, ck.masterKey, nil, []byte("ConversationKey:"+id))
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("failed to derive conversation key: %w", err)
	}

	ck.derived[id] = derived
	return derived, nil
}

// conversationID 用戶對的規範化識別碼，與參數順序無關
func conversationID(userA, userB string) string {
	if userA < userB {
		return userA + ":" + userB
	}
	return userB + ":" + userA
}
