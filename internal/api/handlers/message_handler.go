package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/kb-bot/internal/bot"
	"github.com/xaenox/kb-bot/internal/models"
)

// BotService is the part of bot.Service the HTTP layer calls.
type BotService interface {
	HandleMessage(ctx context.Context, botID, content, threadID string) (bot.Response, error)
	GetBotSettings(ctx context.Context, botID string) (models.WidgetSettings, error)
	GetThreadMessages(ctx context.Context, botID, threadID string) ([]*models.Message, error)
}

type MessageHandler struct {
	svc BotService
}

func NewMessageHandler(svc BotService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type MessageRequest struct {
	Content  string `json:"content" binding:"required"`
	ThreadID string `json:"thread_id" binding:"required"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ThreadMessagesResponse struct {
	Success  bool              `json:"success"`
	Messages []*models.Message `json:"messages"`
}

type SettingsResponse struct {
	Success  bool                  `json:"success"`
	Settings models.WidgetSettings `json:"settings"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.ThreadID) == "" {
		badRequest(c, msgInvalidBody)
		return
	}

	resp, err := h.svc.HandleMessage(c.Request.Context(), botID, req.Content, req.ThreadID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: resp.Content})
}

func (h *MessageHandler) Thread(c *gin.Context) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}

	msgs, err := h.svc.GetThreadMessages(c.Request.Context(), botID, c.Param("threadId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}

	c.JSON(http.StatusOK, ThreadMessagesResponse{Success: true, Messages: msgs})
}

func (h *MessageHandler) Settings(c *gin.Context) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}

	settings, err := h.svc.GetBotSettings(c.Request.Context(), botID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SettingsResponse{Success: true, Settings: settings})
}
