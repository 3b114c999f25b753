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

// SearchHandler 候选人混合检索接口
type SearchHandler struct {
	search *processor.SearchEngine
}

// NewSearchHandler 创建检索接口处理器
func NewSearchHandler(search *processor.SearchEngine) *SearchHandler {
	return &SearchHandler{search: search}
}

// HandleSearchCandidates 按自然语言条件检索候选人
// GET /api/v1/candidates/search?q=...&limit=10
func (h *SearchHandler) HandleSearchCandidates(ctx context.Context, c *app.RequestContext) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "查询参数 q 不能为空"})
		return
	}

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 0 // 交由检索引擎使用默认值
	}

	results, err := h.search.Search(ctx, query, limit)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("query", query).Msg("候选人检索失败")
		c.JSON(statusForError(err), map[string]string{"error": "检索失败"})
		return
	}

	// 列表响应不携带向量和全文
	for _, r := range results {
		r.Candidate.Embedding = nil
		r.Candidate.RawText = ""
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":        results,
		"total_count": len(results),
		"query":       query,
	})
}
