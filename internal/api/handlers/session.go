package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"debate_arena/internal/models"
	"debate_arena/internal/service"
)

// SessionHandler 處理與辯論會話相關的請求
type SessionHandler struct {
	sessionService *service.SessionService
	turnService    *service.TurnCoordinator
	judgeService   *service.JudgeCoordinator
	invitation     *service.InvitationService
}

// NewSessionHandler 創建一個新的 SessionHandler 實例
func NewSessionHandler(
	sessionService *service.SessionService,
	turnService *service.TurnCoordinator,
	judgeService *service.JudgeCoordinator,
	invitation *service.InvitationService,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		turnService:    turnService,
		judgeService:   judgeService,
		invitation:     invitation,
	}
}

// respondError 把領域錯誤的分類映射到 HTTP 狀態碼
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var domainErr *service.Error
	if errors.As(err, &domainErr) {
		switch domainErr.Kind {
		case service.KindValidation:
			status = http.StatusBadRequest
		case service.KindConflict:
			status = http.StatusConflict
		case service.KindExternalDependency:
			status = http.StatusBadGateway
		case service.KindTimeout:
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": domainErr.Message})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func sessionIDParam(c *gin.Context) (uint, bool) {
	sessionID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的會話ID"})
		return 0, false
	}
	return uint(sessionID), true
}

// CreateSession 處理創建新會話的請求
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var input struct {
		Topic       string `json:"topic" binding:"required"`
		Rounds      int    `json:"rounds" binding:"required"`
		ProponentID uint   `json:"proponent_id"`
		OpponentID  uint   `json:"opponent_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := c.Get("userID")

	session, err := h.sessionService.CreateSession(c.Request.Context(),
		input.Topic, input.Rounds, userID.(uint), input.ProponentID, input.OpponentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetSession 處理獲取會話狀態的請求，含按序排列的發言
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	session, err := h.sessionService.GetSession(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ListSessions 處理獲取會話列表的請求
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListSessions()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// JoinSession 處理占用正方或反方位置的請求
func (h *SessionHandler) JoinSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var input struct {
		Position string `json:"position" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := c.Get("userID")

	err := h.sessionService.AssignParticipant(c.Request.Context(),
		sessionID, models.Position(input.Position), userID.(uint))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "成功加入會話"})
}

// StartSession 處理開始辯論的請求
func (h *SessionHandler) StartSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.sessionService.StartSession(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "辯論開始"})
}

// SubmitTurn 處理提交發言的請求
func (h *SessionHandler) SubmitTurn(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var input struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := c.Get("userID")

	err := h.turnService.SubmitArgument(c.Request.Context(), sessionID, userID.(uint), input.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "發言已提交"})
}

// RetryJudging 處理重試評審的請求
func (h *SessionHandler) RetryJudging(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.judgeService.RetryJudging(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "評審已重新執行"})
}

// GetInviteLink 取得（必要時重新鑄造）邀請令牌
func (h *SessionHandler) GetInviteLink(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	token, expiresAt, err := h.invitation.GetOrCreateLink(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// AcceptInvitation 處理以邀請令牌加入反方的請求
func (h *SessionHandler) AcceptInvitation(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var input struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := c.Get("userID")

	err := h.sessionService.AcceptInvitation(c.Request.Context(), sessionID, input.Token, userID.(uint))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "成功加入辯論"})
}
