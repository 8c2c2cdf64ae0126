package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"cofounder-chat/internal/chat/delivery"
	"cofounder-chat/internal/chat/presence"
	"cofounder-chat/internal/chat/retry"
	"cofounder-chat/internal/platform/config"
	"cofounder-chat/internal/platform/driver"
	"cofounder-chat/internal/platform/logger"
	"cofounder-chat/internal/platform/server"
	"cofounder-chat/internal/push"
	"cofounder-chat/internal/security/encryption"
	"cofounder-chat/internal/storage/database"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// loadMasterKey 載入主密鑰
// 未設置 MASTER_KEY 時生成臨時隨機密鑰（開發環境）
func loadMasterKey() ([]byte, error) {
	ctx := context.Background()

	if os.Getenv("MASTER_KEY") != "" {
		masterKey, err := encryption.LoadMasterKey()
		if err != nil {
			logger.Error(ctx, "Master Key 格式錯誤", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return nil, fmt.Errorf("invalid master key configuration")
		}

		// 遮罩顯示（只顯示前4個字元，其餘用*代替）
		masked := fmt.Sprintf("%x****", masterKey[:2])
		logger.Info(ctx, "[SUCCESS] 成功從環境變量載入主密鑰", logger.WithDetails(map[string]interface{}{
			"masked": masked,
			"length": len(masterKey),
			"source": "MASTER_KEY environment variable",
		}))
		return masterKey, nil
	}

	// 開發環境：生成臨時隨機密鑰
	masterKey := make([]byte, 32)
	if _, err := rand.Read(masterKey); err != nil {
		logger.Error(ctx, "無法生成隨機密鑰", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return nil, fmt.Errorf("master key initialization failed")
	}

	logger.Info(ctx, "[WARNING] 開發模式：使用臨時主密鑰（重啟後舊訊息將無法解密）")
	logger.Info(ctx, "[WARNING] 提示：生產環境請設置 MASTER_KEY 環境變量")
	logger.Info(ctx, "生成方式：export MASTER_KEY=$(openssl rand -base64 32)")

	return masterKey, nil
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()
	logger.LogInfof("設定載入成功，環境: %s", config.GetEnv())

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	// 設置 MongoDB 連接到 database 包
	database.SetMongoDB(driver.GetMongoDatabase())

	// 初始化 Repository.
	repos := database.NewRepositories()
	if repos == nil {
		return fmt.Errorf("repository initialization failed")
	}

	// 初始化消息加密
	var crypto *encryption.MessageEncryption
	if cfg.Security.Encryption.Enabled {
		masterKey, err := loadMasterKey()
		if err != nil {
			logger.Error(ctx, "無法載入主密鑰", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return fmt.Errorf("encryption initialization failed")
		}

		keys, err := encryption.NewConversationKeys(masterKey)
		if err != nil {
			logger.Error(ctx, "對話密鑰管理器創建失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return fmt.Errorf("encryption initialization failed")
		}
		crypto = encryption.NewMessageEncryption(true, keys)
	} else {
		crypto = encryption.NewMessageEncryption(false, nil)
	}

	// 初始化推播通道
	var pushProvider push.Provider = push.LogProvider{}
	if cfg.Push.Enabled && cfg.Push.Endpoint != "" {
		pushProvider = push.NewHTTPSender(cfg.Push.Endpoint, time.Duration(cfg.Push.Timeout)*time.Second)
		logger.Info(ctx, "[Push] HTTP 推播通道已啟用")
	}

	// 連接 RabbitMQ 並建立重試佇列
	var retryQueue *retry.Queue
	if err := driver.ConnectRabbit(); err != nil {
		// 重試佇列不可用時服務降級運行，投遞失敗只記錄不重試
		logger.Errorf(ctx, "RabbitMQ 連接失敗，重試佇列停用: %v", err)
	} else {
		defer func() {
			if err := driver.CloseRabbit(); err != nil {
				logger.Errorf(ctx, "關閉 RabbitMQ 連接失敗: %v", err)
			}
		}()

		var err error
		retryQueue, err = retry.NewQueue(driver.GetRabbitChannel(), cfg.Broker.Rabbit.RetryQueue, cfg.Broker.Rabbit.BaseDelayMS)
		if err != nil {
			logger.Errorf(ctx, "重試佇列建立失敗: %v", err)
			retryQueue = nil
		}
	}

	// 組裝投遞引擎
	var enqueuer delivery.Enqueuer
	if retryQueue != nil {
		enqueuer = retryQueue
	}
	engine := delivery.NewEngine(
		repos.Message,
		repos.User,
		presence.NewRegistry(),
		pushProvider,
		enqueuer,
		crypto,
		cfg.Limits.Message.DrainBatchSize,
	)

	// 啟動重試消費者
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if retryQueue != nil {
		worker := retry.NewWorker(retryQueue, engine, cfg.Broker.Rabbit.MaxAttempts)
		go func() {
			if err := worker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Errorf(ctx, "重試消費者結束: %v", err)
			}
		}()
		logger.Info(ctx, "[Retry] 重試消費者已啟動")
	}

	logger.Info(ctx, "[System] 服務器啟動完成")

	// 啟動 HTTP 服務器，阻塞到收到關閉信號
	return server.Start(engine)
}
