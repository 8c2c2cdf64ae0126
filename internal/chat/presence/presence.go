package presence

import (
	"sync"

	"cofounder-chat/internal/chat/event"
)

// Handle 代表一條可推送的連接
// 由傳輸層實作，presence 與 delivery 只透過此介面與連接互動
type Handle interface {
	// ID 連接唯一識別碼
	ID() string
	// Send 將事件排入該連接的發送佇列，連接已關閉時回傳 error
	Send(env *event.Envelope) error
}

// Registry 在線名冊，維護 user -> 連接集合 的映射
// 同一用戶允許多條並行連接（多分頁、多裝置）
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]Handle
}

// NewRegistry 創建在線名冊
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]Handle),
	}
}

// Register 登記連接，回傳該用戶是否由離線轉為在線
func (r *Registry) Register(userID string, h Handle) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.users[userID]
	if !ok {
		handles = make(map[string]Handle)
		r.users[userID] = handles
	}
	handles[h.ID()] = h
	return !ok
}

// Unregister 移除連接，回傳該用戶是否因此轉為離線
// 重複移除同一連接為 no-op
func (r *Registry) Unregister(userID, handleID string) (wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := handles[handleID]; !ok {
		return false
	}
	delete(handles, handleID)
	if len(handles) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// IsOnline 用戶是否至少有一條活躍連接
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// HandlesFor 取得用戶所有連接的快照
func (r *Registry) HandlesFor(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.users[userID]
	if len(handles) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		out = append(out, h)
	}
	return out
}

// OnlineCount 在線用戶數
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// ConnectionCount 用戶的活躍連接數
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}
