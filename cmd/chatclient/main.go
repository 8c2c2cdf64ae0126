// 命令行聊天測試客戶端
// 連接本地伺服器的 WebSocket 端點，從標準輸入讀取指令：
//
//	send <recipient_id> <content>   發送消息
//	seen <sender_id> <message_id>   標記已讀
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "伺服器位址")
	userID := flag.String("user", "", "用戶 ID")
	flag.Parse()

	if *userID == "" {
		log.Fatal("必須指定 -user")
	}

	url := fmt.Sprintf("ws://%s/ws/chat?user_id=%s", *addr, *userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("連接失敗: %v", err)
	}
	defer conn.Close()

	fmt.Printf("已連接 %s\n", url)

	// 接收循環
	go func() {
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				log.Printf("連接關閉: %v", err)
				os.Exit(0)
			}
			fmt.Printf("<- [%s] %s\n", env.Event, env.Data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), " ", 3)
		if len(parts) < 3 {
			fmt.Println("用法: send <recipient_id> <content> | seen <sender_id> <message_id>")
			continue
		}

		var payload interface{}
		var eventName string
		switch parts[0] {
		case "send":
			eventName = "send_message"
			payload = map[string]interface{}{
				"sender_id":    *userID,
				"recipient_id": parts[1],
				"content":      parts[2],
				"temp_id":      fmt.Sprintf("cli-%d", os.Getpid()),
			}
		case "seen":
			eventName = "message_seen"
			payload = map[string]interface{}{
				"message_ids":  []string{parts[2]},
				"sender_id":    parts[1],
				"recipient_id": *userID,
			}
		default:
			fmt.Println("未知指令:", parts[0])
			continue
		}

		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("編碼失敗: %v", err)
			continue
		}
		if err := conn.WriteJSON(envelope{Event: eventName, Data: data}); err != nil {
			log.Fatalf("發送失敗: %v", err)
		}
	}
}
