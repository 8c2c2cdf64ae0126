// Package delivery 消息投遞引擎。
// 串接持久化、在線名冊、推播與重試佇列，
// 所有狀態轉移都以資料庫的條件更新為準，記憶體狀態僅作路由用。
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cofounder-chat/internal/chat/event"
	"cofounder-chat/internal/chat/presence"
	"cofounder-chat/internal/platform/logger"
	"cofounder-chat/internal/platform/metrics"
	"cofounder-chat/internal/platform/middleware"
	"cofounder-chat/internal/push"
	"cofounder-chat/internal/security/encryption"
	"cofounder-chat/internal/storage/database/message"
	"cofounder-chat/internal/storage/database/user"
)

// ErrSenderMismatch 發送者與連接身份不符
var ErrSenderMismatch = errors.New("sender does not match connection identity")

// Enqueuer 重試佇列入口
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *message.Message, attempt int) error
}

// Engine 投遞引擎
type Engine struct {
	messages message.Repository
	users    user.Repository
	registry *presence.Registry
	push     push.Provider
	retry    Enqueuer
	crypto   *encryption.MessageEncryption
	unread   *UnreadCounter

	drainBatchSize int
}

// NewEngine 創建投遞引擎
func NewEngine(
	messages message.Repository,
	users user.Repository,
	registry *presence.Registry,
	pushProvider push.Provider,
	retry Enqueuer,
	crypto *encryption.MessageEncryption,
	drainBatchSize int,
) *Engine {
	return &Engine{
		messages:       messages,
		users:          users,
		registry:       registry,
		push:           pushProvider,
		retry:          retry,
		crypto:         crypto,
		unread:         NewUnreadCounter(),
		drainBatchSize: drainBatchSize,
	}
}

// Registry 在線名冊
func (e *Engine) Registry() *presence.Registry {
	return e.registry
}

// Connected 處理新連接：登記在線、補發未送達消息、推送未讀快照
func (e *Engine) Connected(ctx context.Context, userID string, h presence.Handle) error {
	if err := middleware.ValidateUserID(userID); err != nil {
		return err
	}

	cameOnline := e.registry.Register(userID, h)
	metrics.ActiveConnections.Inc()

	if cameOnline {
		metrics.OnlineUsers.Inc()
		if err := e.users.UpdateStatus(ctx, userID, user.StatusOnline, time.Now().UTC()); err != nil {
			// 狀態更新失敗不中斷連接，名冊仍是路由依據
			logger.Error(ctx, "更新用戶在線狀態失敗",
				logger.WithUserID(userID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}),
			)
		}
	}

	e.drain(ctx, userID, h)

	// 補發完成後播種未讀計數，讓快照涵蓋剛補發的消息
	count, err := e.messages.CountUnseen(ctx, userID)
	if err != nil {
		logger.Error(ctx, "查詢未讀計數失敗",
			logger.WithUserID(userID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	} else {
		e.unread.Seed(userID, count)
		h.Send(event.MustNew(event.UnreadCountUpdateEvent, map[string]int64{"count": count}))
	}

	e.pushUnseenGroups(ctx, userID, []presence.Handle{h})

	logger.Info(ctx, "用戶連接已建立",
		logger.WithUserID(userID),
		logger.WithAction("connected"),
		logger.WithDetails(map[string]interface{}{"came_online": cameOnline}),
	)
	return nil
}

// Disconnected 處理連接關閉，最後一條連接關閉時轉為離線
func (e *Engine) Disconnected(ctx context.Context, userID, handleID string) {
	wentOffline := e.registry.Unregister(userID, handleID)
	metrics.ActiveConnections.Dec()

	if wentOffline {
		metrics.OnlineUsers.Dec()
		e.unread.Forget(userID)
		if err := e.users.UpdateStatus(ctx, userID, user.StatusOffline, time.Now().UTC()); err != nil {
			logger.Error(ctx, "更新用戶離線狀態失敗",
				logger.WithUserID(userID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}),
			)
		}
	}

	logger.Info(ctx, "用戶連接已關閉",
		logger.WithUserID(userID),
		logger.WithAction("disconnected"),
		logger.WithDetails(map[string]interface{}{"went_offline": wentOffline}),
	)
}

// drain 補發所有未送達消息到新連接
// 先寫入連接再做條件標記：寫入失敗的消息保持未送達，
// 留給下次連接補發；並行投遞造成的重複屬於 at-least-once 可接受範圍
func (e *Engine) drain(ctx context.Context, userID string, h presence.Handle) {
	msgs, err := e.messages.FindUndelivered(ctx, userID, e.drainBatchSize)
	if err != nil {
		logger.Error(ctx, "查詢未送達消息失敗",
			logger.WithUserID(userID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		return
	}

	for _, msg := range msgs {
		payload, err := e.clientPayload(msg, false)
		if err != nil {
			logger.Error(ctx, "解密補發消息失敗",
				logger.WithMessageID(msg.ID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}),
			)
			continue
		}
		if err := h.Send(event.MustNew(event.ReceiveMessageEvent, payload)); err != nil {
			logger.Warning(ctx, "補發消息寫入連接失敗",
				logger.WithMessageID(msg.ID),
				logger.WithUserID(userID),
			)
			continue
		}

		won, err := e.messages.MarkDelivered(ctx, msg.ID, time.Now().UTC())
		if err != nil {
			logger.Error(ctx, "標記送達失敗",
				logger.WithMessageID(msg.ID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}),
			)
			continue
		}
		if !won {
			// 另一條路徑已送達
			continue
		}
		metrics.MessagesDelivered.WithLabelValues("drain").Inc()
	}
}

// Send 處理 send_message：持久化、在線即時投遞、離線推播
func (e *Engine) Send(ctx context.Context, senderID string, req *event.SendMessage, origin presence.Handle) error {
	if req.SenderID != senderID {
		return ErrSenderMismatch
	}
	if err := middleware.ValidateUserID(req.RecipientID); err != nil {
		return err
	}
	if req.RecipientID == senderID {
		return fmt.Errorf("cannot send message to self")
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		return err
	}

	// 收件人必須存在於用戶目錄
	if _, err := e.users.GetByID(ctx, req.RecipientID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return fmt.Errorf("recipient not found")
		}
		return fmt.Errorf("failed to look up recipient: %w", err)
	}

	stored, err := e.crypto.EncryptMessage(req.Content, senderID, req.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}

	msg := message.NewMessage()
	msg.SenderID = senderID
	msg.RecipientID = req.RecipientID
	msg.Content = stored

	if err := e.messages.Create(ctx, &msg); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	metrics.MessagesSent.Inc()

	if e.registry.IsOnline(req.RecipientID) {
		e.deliverLive(ctx, &msg, req.Content)
	} else {
		e.notifyOffline(ctx, &msg, req.Content)
	}

	// 回執帶永久 ID 與送達狀態，客戶端以 temp_id 對上樂觀發送的那筆
	ackMsg := msg
	ackMsg.Content = req.Content
	origin.Send(event.MustNew(event.MessageSentAckEvent, &event.SentAck{
		TempID:  req.TempID,
		Message: &event.MessagePayload{Message: &ackMsg, IsSentByMe: true},
	}))

	return nil
}

// deliverLive 即時投遞到收件人的所有連接
// 任一連接接受即視為送達並回寫 msg 的狀態欄位，供發送回執攜帶；
// 全部連接都寫入失敗時交給重試佇列
func (e *Engine) deliverLive(ctx context.Context, msg *message.Message, plaintext string) {
	handles := e.registry.HandlesFor(msg.RecipientID)

	live := *msg
	live.Content = plaintext
	env := event.MustNew(event.ReceiveMessageEvent, &event.MessagePayload{Message: &live, IsSentByMe: false})

	delivered := false
	for _, h := range handles {
		if err := h.Send(env); err == nil {
			delivered = true
		}
	}

	if !delivered {
		e.enqueueRetry(ctx, msg)
		return
	}

	now := time.Now().UTC()
	msg.IsDelivered = true
	msg.Status = message.StatusDelivered
	msg.DeliveredAt = &now

	won, err := e.messages.MarkDelivered(ctx, msg.ID, now)
	if err != nil {
		logger.Error(ctx, "標記送達失敗",
			logger.WithMessageID(msg.ID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		return
	}
	if won {
		metrics.MessagesDelivered.WithLabelValues("live").Inc()
		total := e.unread.Incr(msg.RecipientID)
		recipientHandles := e.registry.HandlesFor(msg.RecipientID)
		for _, h := range recipientHandles {
			h.Send(event.MustNew(event.UnreadCountUpdateEvent, map[string]int64{"count": total}))
		}
		e.pushUnseenGroups(ctx, msg.RecipientID, recipientHandles)
	}
}

// notifyOffline 收件人離線，發送推播通知
// 消息會在收件人下次連接時由 drain 補發
func (e *Engine) notifyOffline(ctx context.Context, msg *message.Message, plaintext string) {
	sender, err := e.users.GetByID(ctx, msg.SenderID)
	senderName := msg.SenderID
	if err == nil && sender.DisplayName != "" {
		senderName = sender.DisplayName
	}

	target, err := e.users.GetPushTarget(ctx, msg.RecipientID)
	if err != nil {
		logger.Warning(ctx, "查詢推播目標失敗",
			logger.WithUserID(msg.RecipientID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		return
	}

	n := push.NewMessageNotification(senderName, plaintext, msg.SenderID, msg.ID)
	if err := e.push.Notify(ctx, target, n); err != nil {
		// 推播失敗不影響消息狀態，drain 仍會補發
		logger.Warning(ctx, "推播通知發送失敗",
			logger.WithUserID(msg.RecipientID),
			logger.WithMessageID(msg.ID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	}
}

func (e *Engine) enqueueRetry(ctx context.Context, msg *message.Message) {
	if e.retry == nil {
		return
	}
	if err := e.retry.Enqueue(ctx, msg, 1); err != nil {
		logger.Error(ctx, "消息進入重試佇列失敗",
			logger.WithMessageID(msg.ID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		return
	}
	metrics.MessagesQueued.Inc()
}

// Deliver 重試佇列的投遞回調
// 收件人離線視為成功結束，之後由 drain 負責補發
func (e *Engine) Deliver(ctx context.Context, msg *message.Message) error {
	current, err := e.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to load message for retry: %w", err)
	}
	if current.IsDelivered {
		return nil
	}

	if !e.registry.IsOnline(current.RecipientID) {
		return nil
	}

	payload, err := e.clientPayload(current, false)
	if err != nil {
		return fmt.Errorf("failed to decrypt message for retry: %w", err)
	}
	env := event.MustNew(event.ReceiveMessageEvent, payload)

	delivered := false
	for _, h := range e.registry.HandlesFor(current.RecipientID) {
		if err := h.Send(env); err == nil {
			delivered = true
		}
	}
	if !delivered {
		return fmt.Errorf("no connection accepted message %s", current.ID)
	}

	won, err := e.messages.MarkDelivered(ctx, current.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	if won {
		metrics.MessagesDelivered.WithLabelValues("retry").Inc()
		total := e.unread.Incr(current.RecipientID)
		recipientHandles := e.registry.HandlesFor(current.RecipientID)
		for _, h := range recipientHandles {
			h.Send(event.MustNew(event.UnreadCountUpdateEvent, map[string]int64{"count": total}))
		}
		e.pushUnseenGroups(ctx, current.RecipientID, recipientHandles)
	}
	return nil
}

// MarkFailed 重試次數耗盡，消息標記為永久失敗
func (e *Engine) MarkFailed(ctx context.Context, messageID string) error {
	if err := e.messages.UpdateStatus(ctx, messageID, message.StatusFailed); err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	metrics.MessagesFailed.Inc()
	logger.Error(ctx, "消息投遞永久失敗",
		logger.WithMessageID(messageID),
		logger.WithAction("delivery_failed"),
	)
	return nil
}

// MarkSeen 處理 message_seen 批次已讀
// 條件更新只會命中已送達且未讀的消息，實際更新筆數決定計數增減
func (e *Engine) MarkSeen(ctx context.Context, recipientID string, req *event.MessageSeen, origin presence.Handle) error {
	if req.RecipientID != recipientID {
		return ErrSenderMismatch
	}
	if err := middleware.ValidateUserID(req.SenderID); err != nil {
		return err
	}
	if err := middleware.ValidateMessageIDs(req.MessageIDs); err != nil {
		return err
	}

	modified, err := e.messages.MarkSeen(ctx, req.SenderID, recipientID, req.MessageIDs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark messages seen: %w", err)
	}

	origin.Send(event.MustNew(event.MessageSeenAckEvent, &event.SeenAck{MessageIDs: req.MessageIDs}))

	if modified == 0 {
		return nil
	}

	// 計數按實際更新筆數遞減，重放同一批次不會重複扣
	total := e.unread.Decr(recipientID, modified)
	recipientHandles := e.registry.HandlesFor(recipientID)
	for _, h := range recipientHandles {
		h.Send(event.MustNew(event.UnreadCountUpdateEvent, map[string]int64{"count": total}))
	}
	e.pushUnseenGroups(ctx, recipientID, recipientHandles)

	// 通知原始發送者的所有在線連接
	if e.registry.IsOnline(req.SenderID) {
		for _, id := range req.MessageIDs {
			env := event.MustNew(event.MessageSeenEvent, &event.SeenNotice{MessageID: id, IsSeen: true})
			for _, h := range e.registry.HandlesFor(req.SenderID) {
				h.Send(env)
			}
		}
	}

	return nil
}

// UnreadSnapshot 按發送者分組的未讀摘要，最新一則內容以明文回傳
func (e *Engine) UnreadSnapshot(ctx context.Context, recipientID string) ([]*message.UnreadGroup, error) {
	groups, err := e.messages.UnreadBySender(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate unread messages: %w", err)
	}

	for _, g := range groups {
		plain, err := e.crypto.DecryptMessage(g.LatestMessage, g.SenderID, recipientID)
		if err != nil {
			logger.Warning(ctx, "解密未讀摘要失敗",
				logger.WithUserID(recipientID),
				logger.WithDetails(map[string]interface{}{"sender_id": g.SenderID}),
			)
			g.LatestMessage = ""
			continue
		}
		g.LatestMessage = plain
	}
	return groups, nil
}

// GetMessage 讀取單則消息，只有對話參與者可見
func (e *Engine) GetMessage(ctx context.Context, requesterID, messageID string) (*event.MessagePayload, error) {
	if err := middleware.ValidateMessageID(messageID); err != nil {
		return nil, err
	}
	msg, err := e.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID && msg.RecipientID != requesterID {
		return nil, fmt.Errorf("message does not belong to requester")
	}
	return e.clientPayload(msg, msg.SenderID == requesterID)
}

// Conversation 讀取兩用戶間的消息歷史，內容以明文回傳
func (e *Engine) Conversation(ctx context.Context, requesterID, peerID string, limit int, cursor string) ([]*event.MessagePayload, string, bool, error) {
	if err := middleware.ValidateUserID(peerID); err != nil {
		return nil, "", false, err
	}

	msgs, next, hasMore, err := e.messages.ListConversation(ctx, requesterID, peerID, limit, cursor)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to list conversation: %w", err)
	}

	out := make([]*event.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		payload, err := e.clientPayload(m, m.SenderID == requesterID)
		if err != nil {
			logger.Warning(ctx, "解密歷史消息失敗",
				logger.WithMessageID(m.ID),
			)
			continue
		}
		out = append(out, payload)
	}
	return out, next, hasMore, nil
}

// pushUnseenGroups 推送按發送者分組的未讀摘要
func (e *Engine) pushUnseenGroups(ctx context.Context, recipientID string, handles []presence.Handle) {
	if len(handles) == 0 {
		return
	}
	groups, err := e.UnreadSnapshot(ctx, recipientID)
	if err != nil {
		logger.Error(ctx, "查詢未讀摘要失敗",
			logger.WithUserID(recipientID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		return
	}
	env := event.MustNew(event.UnseenCountEvent, groups)
	for _, h := range handles {
		h.Send(env)
	}
}

// clientPayload 將存儲形態的消息轉為客戶端可讀形態
func (e *Engine) clientPayload(msg *message.Message, isSentByMe bool) (*event.MessagePayload, error) {
	plain, err := e.crypto.DecryptMessage(msg.Content, msg.SenderID, msg.RecipientID)
	if err != nil {
		return nil, err
	}
	out := *msg
	out.Content = plain
	return &event.MessagePayload{Message: &out, IsSentByMe: isSentByMe}, nil
}
