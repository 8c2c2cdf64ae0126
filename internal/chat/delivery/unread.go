package delivery

import "sync"

// UnreadCounter 在線用戶的未讀總數快取
// 連接時以資料庫計數播種，之後隨送達與已讀事件增減
// 資料庫中的條件更新才是事實來源，此處只是推送快照用的近似值
type UnreadCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewUnreadCounter 創建未讀計數器
func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{
		counts: make(map[string]int64),
	}
}

// Seed 以資料庫計數播種
func (c *UnreadCounter) Seed(userID string, count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID] = count
}

// Incr 新消息送達時遞增，回傳更新後的值
func (c *UnreadCounter) Incr(userID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
	return c.counts[userID]
}

// Decr 已讀確認時按實際更新筆數遞減，下限為零
func (c *UnreadCounter) Decr(userID string, n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.counts[userID] - n
	if v < 0 {
		v = 0
	}
	c.counts[userID] = v
	return v
}

// Get 取得當前值
func (c *UnreadCounter) Get(userID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[userID]
}

// Forget 用戶離線時移除，避免計數無限增長
func (c *UnreadCounter) Forget(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
}
