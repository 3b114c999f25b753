package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"cv-match-go/internal/processor"
	"cv-match-go/internal/types"
)

// JobHandler 岗位管理接口。删除为软删除，下线岗位保留历史匹配数据。
type JobHandler struct {
	jobs    processor.JobStore
	matcher *processor.MatchService
}

// NewJobHandler 创建岗位接口处理器
func NewJobHandler(jobs processor.JobStore, matcher *processor.MatchService) *JobHandler {
	return &JobHandler{jobs: jobs, matcher: matcher}
}

// jobRequest 创建/更新岗位的请求体
type jobRequest struct {
	Title            string   `json:"title"`
	Company          string   `json:"company"`
	Description      string   `json:"description"`
	Requirements     []string `json:"requirements"`
	Skills           []string `json:"skills"`
	Responsibilities []string `json:"responsibilities"`
	Location         string   `json:"location"`
	Salary           string   `json:"salary"`
	JobType          string   `json:"job_type"`
	Industry         string   `json:"industry"`
	ExperienceLevel  string   `json:"experience_level"`
	EducationLevel   string   `json:"education_level"`
	RawDescription   string   `json:"raw_description"`
}

func (r *jobRequest) toPosting(jobID string) *types.JobPosting {
	return &types.JobPosting{
		JobID:            jobID,
		Title:            strings.TrimSpace(r.Title),
		Company:          r.Company,
		Description:      r.Description,
		Requirements:     r.Requirements,
		Skills:           dedupeSkills(r.Skills),
		Responsibilities: r.Responsibilities,
		Location:         r.Location,
		Salary:           r.Salary,
		JobType:          r.JobType,
		Industry:         r.Industry,
		ExperienceLevel:  r.ExperienceLevel,
		EducationLevel:   r.EducationLevel,
		Active:           true,
		RawDescription:   r.RawDescription,
	}
}

// dedupeSkills 技能为集合语义，去重但保留首次出现顺序
func dedupeSkills(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// HandleCreateJob 创建岗位
// POST /api/v1/jobs
func (h *JobHandler) HandleCreateJob(ctx context.Context, c *app.RequestContext) {
	var req jobRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "岗位标题不能为空"})
		return
	}

	posting := req.toPosting(uuid.NewString())
	if err := h.jobs.CreateJob(ctx, posting); err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "创建岗位失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"message": "岗位创建成功", "job_id": posting.JobID})
}

// HandleUpdateJob 更新岗位，UpdatedAt变化会使相关匹配缓存失效
// PUT /api/v1/jobs/:job_id
func (h *JobHandler) HandleUpdateJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}

	var req jobRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "岗位标题不能为空"})
		return
	}

	existing, err := h.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询岗位失败"})
		return
	}
	if existing == nil || !existing.Active {
		c.JSON(consts.StatusNotFound, map[string]string{"error": fmt.Sprintf("岗位 %s 不存在或已下线", jobID)})
		return
	}

	posting := req.toPosting(jobID)
	if err := h.jobs.UpdateJob(ctx, posting); err != nil {
		c.JSON(statusForError(err), map[string]string{"error": "更新岗位失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "岗位更新成功", "job_id": jobID})
}

// HandleGetJob 获取岗位详情
// GET /api/v1/jobs/:job_id
func (h *JobHandler) HandleGetJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}

	job, err := h.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询岗位失败"})
		return
	}
	if job == nil || !job.Active {
		c.JSON(consts.StatusNotFound, map[string]string{"error": fmt.Sprintf("岗位 %s 不存在或已下线", jobID)})
		return
	}
	c.JSON(consts.StatusOK, job)
}

// HandleListJobs 列出在线岗位
// GET /api/v1/jobs
func (h *JobHandler) HandleListJobs(ctx context.Context, c *app.RequestContext) {
	jobs, err := h.jobs.ListActiveJobs(ctx)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询岗位列表失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":        jobs,
		"total_count": len(jobs),
	})
}

// HandleDeleteJob 下线岗位（软删除）
// DELETE /api/v1/jobs/:job_id
func (h *JobHandler) HandleDeleteJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}

	if err := h.jobs.SoftDeleteJob(ctx, jobID); err != nil {
		c.JSON(statusForError(err), map[string]string{"error": "下线岗位失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"message":    "岗位已下线",
		"job_id":     jobID,
		"deleted_at": time.Now().Format(time.RFC3339),
	})
}

// HandleResetMatches 清空岗位的匹配缓存，job_id为空时清空全部
// POST /api/v1/matches/reset
func (h *JobHandler) HandleResetMatches(ctx context.Context, c *app.RequestContext) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
		return
	}

	n, err := h.matcher.ResetMatches(ctx, req.JobID)
	if err != nil {
		c.JSON(statusForError(err), map[string]string{"error": "清空匹配缓存失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"message":       "匹配缓存已清空",
		"deleted_count": n,
	})
}
