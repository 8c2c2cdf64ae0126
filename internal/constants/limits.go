package constants

// HTTP 請求相關常數
const (
	DefaultMaxRequestBodySize = 1 << 20 // 1MB
	DefaultRequestTimeout     = 30      // 秒
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 10000
	MaxMessageIDsPerSeen    = 500 // 單次 message_seen 批次上限
	PushPreviewLength       = 30  // 推播通知內容預覽長度
)

// 重試佇列相關常數
const (
	DefaultMaxDeliveryAttempts = 3
	DefaultRetryBaseDelayMS    = 2000 // 指數退避基礎延遲（毫秒）
)

// WebSocket 連接相關常數
const (
	DefaultWSReadBufferSize    = 1024
	DefaultWSWriteBufferSize   = 1024
	DefaultWSSendChannelBuffer = 256
	DefaultWSMaxMessageSize    = 64 << 10 // 64KB
	DefaultWSWriteTimeoutSec   = 10
	DefaultWSPongTimeoutSec    = 60
	DefaultWSPingIntervalSec   = 25
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute = 100
	DefaultSendRateLimit      = 30
	RateLimitCleanupInterval  = 10 // 分鐘
)

// MongoDB 查詢相關常數
const (
	DefaultMongoQueryLimit = 20
	MaxMongoQueryLimit     = 100
	MaxDrainBatchSize      = 500 // 重連補發單次查詢上限
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)

// 加密相關常數
const (
	MasterKeyLength = 32 // 256 bits
)
