package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"cv-match-go/internal/logger"
	"cv-match-go/internal/processor"
	"cv-match-go/internal/types"
)

// MatchHandler 人岗匹配评估接口
type MatchHandler struct {
	matcher *processor.MatchService
	matches processor.MatchStore
}

// NewMatchHandler 创建匹配接口处理器
func NewMatchHandler(matcher *processor.MatchService, matches processor.MatchStore) *MatchHandler {
	return &MatchHandler{matcher: matcher, matches: matches}
}

// HandleEvaluateMatch 评估单个候选人与单个岗位
// POST /api/v1/matches/evaluate
func (h *MatchHandler) HandleEvaluateMatch(ctx context.Context, c *app.RequestContext) {
	var req struct {
		CandidateID  string `json:"candidate_id"`
		JobID        string `json:"job_id"`
		ForceRefresh bool   `json:"force_refresh"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
		return
	}
	if req.CandidateID == "" || req.JobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "candidate_id 和 job_id 不能为空"})
		return
	}

	result, err := h.matcher.MatchCandidateToJob(ctx, req.CandidateID, req.JobID, req.ForceRefresh)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("candidate_id", req.CandidateID).
			Str("job_id", req.JobID).
			Msg("匹配评估失败")
		c.JSON(statusForError(err), map[string]string{"error": err.Error()})
		return
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"candidate_id": req.CandidateID,
		"job_id":       req.JobID,
		"result":       result,
	})
}

// HandleBatchMatch 批量评估候选人与多个岗位，job_ids为空表示全部在线岗位
// POST /api/v1/matches/batch
func (h *MatchHandler) HandleBatchMatch(ctx context.Context, c *app.RequestContext) {
	var req struct {
		CandidateID  string   `json:"candidate_id"`
		JobIDs       []string `json:"job_ids"`
		Limit        int      `json:"limit"`
		ForceRefresh bool     `json:"force_refresh"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
		return
	}
	if req.CandidateID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "candidate_id 不能为空"})
		return
	}

	scores, err := h.matcher.MatchCandidateToJobs(ctx, req.CandidateID, req.JobIDs, req.Limit, req.ForceRefresh)
	if err != nil {
		c.JSON(statusForError(err), map[string]string{"error": err.Error()})
		return
	}

	// 单岗位错误作为条目内字段返回，不改变整体状态码
	data := make([]map[string]interface{}, 0, len(scores))
	failed := 0
	for _, s := range scores {
		item := map[string]interface{}{
			"job_id": s.JobID,
		}
		if s.Err != nil {
			item["error"] = s.Err.Error()
			failed++
		} else {
			item["score"] = s.Score
			item["details"] = s.Details
			item["recommendations"] = s.Recommendations
		}
		data = append(data, item)
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"candidate_id": req.CandidateID,
		"data":         data,
		"total_count":  len(scores),
		"failed_count": failed,
	})
}

// HandleRankCandidates 为岗位在全部候选人中评估并返回最匹配的前若干人
// POST /api/v1/jobs/:job_id/matches/evaluate
func (h *MatchHandler) HandleRankCandidates(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}

	var req struct {
		Limit        int  `json:"limit"`
		ForceRefresh bool `json:"force_refresh"`
	}
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	scores, err := h.matcher.MatchJobToCandidates(ctx, jobID, req.Limit, req.ForceRefresh)
	if err != nil {
		c.JSON(statusForError(err), map[string]string{"error": err.Error()})
		return
	}

	data := make([]map[string]interface{}, 0, len(scores))
	failed := 0
	for _, s := range scores {
		item := map[string]interface{}{
			"candidate_id": s.CandidateID,
		}
		if s.Err != nil {
			item["error"] = s.Err.Error()
			failed++
		} else {
			item["score"] = s.Score
			item["details"] = s.Details
			item["recommendations"] = s.Recommendations
		}
		data = append(data, item)
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"job_id":       jobID,
		"data":         data,
		"total_count":  len(scores),
		"failed_count": failed,
	})
}

// HandleListJobMatches 岗位维度的匹配排行榜（读缓存表，不触发评估）
// GET /api/v1/jobs/:job_id/matches
func (h *MatchHandler) HandleListJobMatches(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}

	rows, err := h.matches.ListMatchesForJob(ctx, jobID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询匹配记录失败"})
		return
	}

	data := make([]*types.RankedMatch, 0, len(rows))
	for i := range rows {
		ranked, err := rows[i].ToRanked()
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Uint64("match_id", rows[i].MatchID).Msg("解析匹配记录失败，跳过")
			continue
		}
		data = append(data, ranked)
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"job_id":      jobID,
		"data":        data,
		"total_count": len(data),
	})
}

// HandleListCandidateMatches 候选人维度的历史匹配记录
// GET /api/v1/candidates/:candidate_id/matches
func (h *MatchHandler) HandleListCandidateMatches(ctx context.Context, c *app.RequestContext) {
	candidateID := c.Param("candidate_id")
	if candidateID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "candidate_id 不能为空"})
		return
	}

	rows, err := h.matches.ListMatchesForCandidate(ctx, candidateID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询匹配记录失败"})
		return
	}

	data := make([]*types.RankedMatch, 0, len(rows))
	for i := range rows {
		ranked, err := rows[i].ToRanked()
		if err != nil {
			continue
		}
		data = append(data, ranked)
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"candidate_id": candidateID,
		"data":         data,
		"total_count":  len(data),
	})
}
