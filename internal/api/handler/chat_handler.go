package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"cv-match-go/internal/logger"
	"cv-match-go/internal/processor"
)

// ChatHandler 对话助手接口
type ChatHandler struct {
	assistant *processor.ChatAssistant
	chats     processor.ChatStore
}

// NewChatHandler 创建对话接口处理器
func NewChatHandler(assistant *processor.ChatAssistant, chats processor.ChatStore) *ChatHandler {
	return &ChatHandler{assistant: assistant, chats: chats}
}

// HandleChat 处理一条用户消息
// POST /api/v1/chat
func (h *ChatHandler) HandleChat(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "message 不能为空"})
		return
	}

	turn, err := h.assistant.Chat(ctx, req.Message)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("对话处理失败")
		c.JSON(statusForError(err), map[string]string{"error": "对话处理失败"})
		return
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"turn_id":        turn.TurnID,
		"answer":         turn.Assistant,
		"function_calls": turn.FunctionCalls,
		"candidate_id":   turn.CandidateID,
	})
}

// HandleChatHistory 按时间顺序返回最近的对话记录
// GET /api/v1/chat/history?limit=20
func (h *ChatHandler) HandleChatHistory(ctx context.Context, c *app.RequestContext) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}

	turns, err := h.chats.ListChatTurns(ctx, limit)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询对话历史失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":        turns,
		"total_count": len(turns),
	})
}

// HandleClearChatHistory 清空对话历史
// DELETE /api/v1/chat/history
func (h *ChatHandler) HandleClearChatHistory(ctx context.Context, c *app.RequestContext) {
	if err := h.chats.DeleteChatTurns(ctx); err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "清空对话历史失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "对话历史已清空"})
}
