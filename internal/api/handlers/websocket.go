package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"debate_arena/internal/service"
)

// 定義 WebSocket 升級器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 注意：在生產環境中，應該檢查 origin
	},
}

// WebSocketHandler 處理觀察者的 WebSocket 連接
type WebSocketHandler struct {
	eventBus       *service.EventBus
	sessionService *service.SessionService
}

// NewWebSocketHandler 創建一個新的 WebSocketHandler 實例
func NewWebSocketHandler(eventBus *service.EventBus, sessionService *service.SessionService) *WebSocketHandler {
	return &WebSocketHandler{
		eventBus:       eventBus,
		sessionService: sessionService,
	}
}

// HandleWebSocket 把連接註冊為該會話的本地觀察者。
// 事件經由共用頻道扇出，本處理器只負責本進程的投遞。
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	sessionID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的會話ID"})
		return
	}

	// 先確認會話存在再升級連接
	if _, err := h.sessionService.GetSession(uint(sessionID)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "會話不存在"})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	// 升級 HTTP 連接為 WebSocket 連接
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "升級WebSocket失敗"})
		return
	}

	// 阻塞直到連接關閉，清理由事件總線負責
	h.eventBus.HandleConnection(conn, uint(sessionID), userID.(uint))
}
