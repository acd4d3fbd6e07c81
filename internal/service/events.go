package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"debate_arena/internal/storage"
)

// 事件類型
const (
	EventSessionUpdate = "session_update" // 會話狀態刷新，payload 帶完整會話
	EventYourTurn      = "your_turn"      // 輪到某方發言
	EventVerdict       = "verdict"        // 評審裁決出爐
	EventJudgingError  = "judging_error"  // 評審失敗
	EventSystem        = "system"         // 系統通知
)

// 所有進程共用的發布訂閱頻道
const eventChannel = "debate_events"

// Event 是跨進程扇出的事件封包
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SessionID uint                   `json:"session_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Broadcaster 是各協調器對事件扇出的窄依賴，
// 讓協調器不需要知道有幾個服務進程在跑
type Broadcaster interface {
	Publish(ctx context.Context, sessionID uint, eventType string, payload map[string]interface{}) error
}

// Client 代表一個本進程內的 WebSocket 觀察者連接
type Client struct {
	Conn      *websocket.Conn
	UserID    uint
	SessionID uint
	SendChan  chan []byte // 消息發送通道，用於異步傳送消息
}

// EventBus 維護本進程的觀察者註冊表，並把事件發上共用頻道。
// 每個進程在啟動時訂閱一次；收到事件後只投遞給自己本地的觀察者，
// 絕不直接觸碰其他進程的連接。
type EventBus struct {
	pubsub     storage.PubSub
	clients    map[uint]map[*Client]bool // 兩層 map: sessionID -> client -> bool
	clientsMux sync.RWMutex              // 用於保護 clients map 的讀寫鎖
}

func NewEventBus(pubsub storage.PubSub) *EventBus {
	return &EventBus{
		pubsub:  pubsub,
		clients: make(map[uint]map[*Client]bool),
	}
}

// Start 建立本進程對共用頻道的唯一訂閱
func (b *EventBus) Start(ctx context.Context) error {
	return b.pubsub.Subscribe(ctx, eventChannel, b.deliverLocal)
}

// Publish 把事件發上共用頻道，所有進程（包含自己）經由訂閱收到後各自投遞
func (b *EventBus) Publish(ctx context.Context, sessionID uint, eventType string, payload map[string]interface{}) error {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.pubsub.Publish(ctx, eventChannel, string(data))
}

// deliverLocal 把收到的事件投遞給本進程中訂閱該會話的觀察者
func (b *EventBus) deliverLocal(payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		log.Printf("[events] event parse error: %v", err)
		return
	}

	b.clientsMux.RLock()
	clients := make([]*Client, 0, len(b.clients[event.SessionID]))
	for client := range b.clients[event.SessionID] {
		clients = append(clients, client)
	}
	b.clientsMux.RUnlock()

	for _, client := range clients {
		select {
		case client.SendChan <- []byte(payload):
			// 消息成功加入發送隊列
		default:
			// 客戶端消息隊列已滿，關閉連接
			b.removeClient(client)
			client.Conn.Close()
		}
	}
}

// HandleConnection 處理新的觀察者連接，阻塞直到連接關閉
func (b *EventBus) HandleConnection(conn *websocket.Conn, sessionID, userID uint) {
	client := &Client{
		Conn:      conn,
		UserID:    userID,
		SessionID: sessionID,
		SendChan:  make(chan []byte, 256), // 設置緩衝大小為 256 的消息通道
	}

	b.addClient(client)

	// 確保連接關閉時清理資源
	defer func() {
		b.removeClient(client)
		conn.Close()
		close(client.SendChan)
	}()

	go b.writePump(client)
	b.readPump(client)
}

// readPump 持續讀取以維持心跳，觀察者不經由 WebSocket 發送指令
func (b *EventBus) readPump(client *Client) {
	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[events] websocket unexpected close error: %v", err)
			}
			break
		}
	}
}

// writePump 處理向客戶端發送消息的邏輯
func (b *EventBus) writePump(client *Client) {
	// 設置心跳檢查計時器
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.SendChan:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// 發送心跳包
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// addClient 安全地添加新的客戶端連接
func (b *EventBus) addClient(client *Client) {
	b.clientsMux.Lock()
	defer b.clientsMux.Unlock()

	if b.clients[client.SessionID] == nil {
		b.clients[client.SessionID] = make(map[*Client]bool)
	}
	b.clients[client.SessionID][client] = true
}

// removeClient 安全地移除客戶端連接
func (b *EventBus) removeClient(client *Client) {
	b.clientsMux.Lock()
	defer b.clientsMux.Unlock()

	if clients, ok := b.clients[client.SessionID]; ok {
		delete(clients, client)
		// 如果會話沒有本地觀察者了，刪除整個條目
		if len(clients) == 0 {
			delete(b.clients, client.SessionID)
		}
	}
}

// LocalClientCount 獲取指定會話在本進程的在線觀察者數量
func (b *EventBus) LocalClientCount(sessionID uint) int {
	b.clientsMux.RLock()
	defer b.clientsMux.RUnlock()

	return len(b.clients[sessionID])
}
