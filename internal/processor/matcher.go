package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cv-match-go/internal/constants"
	"cv-match-go/internal/logger"
	"cv-match-go/internal/storage/models"
	"cv-match-go/internal/tracing"
	"cv-match-go/internal/types"
)

var matchTracer = otel.Tracer("cv-match-go/processor/matcher")

// MatchService 人岗匹配服务，带版本感知的分数缓存。
// 缓存命中条件：候选人和岗位的 UpdatedAt 均未变化，且未超过TTL。
type MatchService struct {
	candidates CandidateStore
	jobs       JobStore
	matches    MatchStore
	evaluator  MatchEvaluator

	cacheTTL      time.Duration
	maxConcurrent int
	perJobTimeout time.Duration
}

// MatchServiceOption 匹配服务的配置选项
type MatchServiceOption func(*MatchService)

// WithCacheTTL 覆盖缓存有效期
func WithCacheTTL(ttl time.Duration) MatchServiceOption {
	return func(s *MatchService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithMaxConcurrent 覆盖批量匹配的并发上限
func WithMaxConcurrent(n int) MatchServiceOption {
	return func(s *MatchService) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithPerJobTimeout 覆盖单岗位评估超时
func WithPerJobTimeout(d time.Duration) MatchServiceOption {
	return func(s *MatchService) {
		if d > 0 {
			s.perJobTimeout = d
		}
	}
}

// NewMatchService 创建匹配服务
func NewMatchService(candidates CandidateStore, jobs JobStore, matches MatchStore, evaluator MatchEvaluator, options ...MatchServiceOption) *MatchService {
	s := &MatchService{
		candidates:    candidates,
		jobs:          jobs,
		matches:       matches,
		evaluator:     evaluator,
		cacheTTL:      constants.DefaultMatchCacheSeconds * time.Second,
		maxConcurrent: 5,
		perJobTimeout: 90 * time.Second,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// MatchCandidateToJob 评估单个候选人与单个岗位。
// forceRefresh 为真时跳过缓存读取，但评估结果仍会写回缓存。
func (s *MatchService) MatchCandidateToJob(ctx context.Context, candidateID, jobID string, forceRefresh bool) (*types.MatchResult, error) {
	candidate, err := s.candidates.GetCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, NewExternalServiceError(candidateID, "get_candidate", err.Error())
	}
	if candidate == nil {
		return nil, NewNotFoundError(candidateID, "候选人不存在")
	}

	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, NewExternalServiceError(jobID, "get_job", err.Error())
	}
	if job == nil || !job.Active {
		return nil, NewNotFoundError(jobID, "岗位不存在或已下线")
	}

	return s.matchPair(ctx, candidate, job, forceRefresh)
}

func (s *MatchService) matchPair(ctx context.Context, candidate *types.CandidateRecord, job *types.JobPosting, forceRefresh bool) (*types.MatchResult, error) {
	ctx, span := matchTracer.Start(ctx, "MatchService.MatchPair",
		trace.WithAttributes(
			attribute.String("match.candidate_id", candidate.CandidateID),
			attribute.String("match.job_id", job.JobID),
			attribute.Bool("match.force_refresh", forceRefresh),
		))
	defer span.End()

	if !forceRefresh {
		if cached := s.lookupCache(ctx, candidate, job); cached != nil {
			span.SetAttributes(
				attribute.Bool("match.from_cache", true),
				attribute.Float64("match.score", cached.Score),
			)
			span.SetStatus(codes.Ok, "")
			return cached, nil
		}
	}

	result, err := s.evaluator.EvaluateMatch(ctx, candidateMatchText(candidate), jobMatchText(job))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewExternalServiceError(candidate.CandidateID, "evaluate_match", err.Error())
	}
	result.FromCache = false
	span.SetAttributes(
		attribute.Bool("match.from_cache", false),
		attribute.Float64("match.score", result.Score),
	)
	span.SetStatus(codes.Ok, "")

	ranked := &types.RankedMatch{
		CandidateID:     candidate.CandidateID,
		JobID:           job.JobID,
		Score:           result.Score,
		Details:         result.Details,
		Recommendations: result.Recommendations,
	}
	row, err := models.MatchFromRanked(ranked, candidate.UpdatedAt, job.UpdatedAt, time.Now())
	if err != nil {
		return nil, NewExternalServiceError(candidate.CandidateID, "encode_match", err.Error())
	}
	if err := s.matches.UpsertMatch(ctx, row); err != nil {
		// 缓存写入失败不影响本次结果
		logger.Warn().Err(err).
			Str("candidate_id", candidate.CandidateID).
			Str("job_id", job.JobID).
			Msg("写入匹配缓存失败")
	}
	return result, nil
}

// lookupCache 读取缓存行并校验版本与TTL，失效返回nil
func (s *MatchService) lookupCache(ctx context.Context, candidate *types.CandidateRecord, job *types.JobPosting) *types.MatchResult {
	row, err := s.matches.GetMatch(ctx, candidate.CandidateID, job.JobID)
	if err != nil {
		logger.Warn().Err(err).Msg("读取匹配缓存失败")
		return nil
	}
	if row == nil {
		return nil
	}
	if !s.cacheValid(row, candidate.UpdatedAt, job.UpdatedAt) {
		return nil
	}
	ranked, err := row.ToRanked()
	if err != nil {
		logger.Warn().Err(err).Msg("解析匹配缓存失败，按未命中处理")
		return nil
	}
	return &types.MatchResult{
		Score:           ranked.Score,
		Details:         ranked.Details,
		Recommendations: ranked.Recommendations,
		FromCache:       true,
	}
}

func (s *MatchService) cacheValid(row *models.CandidateJobMatch, cvUpdatedAt, jobUpdatedAt time.Time) bool {
	// 任一源记录在打分之后又被修改过，缓存即失效
	if row.CVVersion.Before(cvUpdatedAt) || row.JobVersion.Before(jobUpdatedAt) {
		return false
	}
	return time.Since(row.CacheTime) < s.cacheTTL
}

// MatchCandidateToJobs 批量评估候选人与多个岗位。
// jobIDs 为空时取全部在线岗位；limit>0 时只返回分数最高的limit条。
// 单岗位失败只记录在对应 JobScore.Err 上，不中断整个批次。
//
// 有效缓存条目已达到limit时直接返回缓存集的前limit条，剩余岗位不再重算。
// 这是以结果新鲜度换外部调用量的取舍：失效条目可能因此得不到刷新，
// forceRefresh 可绕过。
func (s *MatchService) MatchCandidateToJobs(ctx context.Context, candidateID string, jobIDs []string, limit int, forceRefresh bool) ([]types.JobScore, error) {
	candidate, err := s.candidates.GetCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, NewExternalServiceError(candidateID, "get_candidate", err.Error())
	}
	if candidate == nil {
		return nil, NewNotFoundError(candidateID, "候选人不存在")
	}

	jobs, err := s.resolveJobs(ctx, jobIDs)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	scores := make([]types.JobScore, len(jobs))
	pending := make([]int, 0, len(jobs))

	// 先走一遍缓存，只有未命中的岗位才进入并发评估
	if !forceRefresh {
		cached := make([]types.JobScore, 0, len(jobs))
		for i, job := range jobs {
			if hit := s.lookupCache(ctx, candidate, job); hit != nil {
				scores[i] = types.JobScore{
					JobID:           job.JobID,
					Score:           hit.Score,
					Details:         hit.Details,
					Recommendations: hit.Recommendations,
				}
				cached = append(cached, scores[i])
				continue
			}
			pending = append(pending, i)
		}
		if limit > 0 && len(cached) >= limit {
			sort.SliceStable(cached, func(i, j int) bool {
				return cached[i].Score > cached[j].Score
			})
			logger.Info().
				Str("candidate_id", candidateID).
				Int("cached", len(cached)).
				Int("limit", limit).
				Msg("批量匹配全部由缓存覆盖")
			return cached[:limit], nil
		}
	} else {
		for i := range jobs {
			pending = append(pending, i)
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxConcurrent)
	for _, idx := range pending {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			jobCtx, cancel := context.WithTimeout(ctx, s.perJobTimeout)
			defer cancel()

			job := jobs[i]
			result, err := s.matchPair(jobCtx, candidate, job, forceRefresh)
			if err != nil {
				scores[i] = types.JobScore{JobID: job.JobID, Err: err}
				return
			}
			scores[i] = types.JobScore{
				JobID:           job.JobID,
				Score:           result.Score,
				Details:         result.Details,
				Recommendations: result.Recommendations,
			}
		}(idx)
	}
	wg.Wait()

	// 按分数降序，失败项沉底
	sort.SliceStable(scores, func(i, j int) bool {
		if (scores[i].Err == nil) != (scores[j].Err == nil) {
			return scores[i].Err == nil
		}
		return scores[i].Score > scores[j].Score
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}

	logger.Info().
		Str("candidate_id", candidateID).
		Int("jobs", len(jobs)).
		Int("evaluated", len(pending)).
		Msg("批量匹配完成")
	return scores, nil
}

// MatchJobToCandidates 为一个岗位在全部候选人中找出匹配度最高的limit人。
// 缓存语义与 MatchCandidateToJobs 相同：有效缓存条目达到limit时不再重算。
func (s *MatchService) MatchJobToCandidates(ctx context.Context, jobID string, limit int, forceRefresh bool) ([]types.CandidateScore, error) {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, NewExternalServiceError(jobID, "get_job", err.Error())
	}
	if job == nil || !job.Active {
		return nil, NewNotFoundError(jobID, "岗位不存在或已下线")
	}

	candidates, _, err := s.candidates.ListCandidates(ctx, 0, -1)
	if err != nil {
		return nil, NewExternalServiceError(jobID, "list_candidates", err.Error())
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scores := make([]types.CandidateScore, len(candidates))
	pending := make([]int, 0, len(candidates))

	if !forceRefresh {
		cached := make([]types.CandidateScore, 0, len(candidates))
		for i, candidate := range candidates {
			if hit := s.lookupCache(ctx, candidate, job); hit != nil {
				scores[i] = types.CandidateScore{
					CandidateID:     candidate.CandidateID,
					Score:           hit.Score,
					Details:         hit.Details,
					Recommendations: hit.Recommendations,
				}
				cached = append(cached, scores[i])
				continue
			}
			pending = append(pending, i)
		}
		if limit > 0 && len(cached) >= limit {
			sort.SliceStable(cached, func(i, j int) bool {
				return cached[i].Score > cached[j].Score
			})
			return cached[:limit], nil
		}
	} else {
		for i := range candidates {
			pending = append(pending, i)
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxConcurrent)
	for _, idx := range pending {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pairCtx, cancel := context.WithTimeout(ctx, s.perJobTimeout)
			defer cancel()

			candidate := candidates[i]
			result, err := s.matchPair(pairCtx, candidate, job, forceRefresh)
			if err != nil {
				scores[i] = types.CandidateScore{CandidateID: candidate.CandidateID, Err: err}
				return
			}
			scores[i] = types.CandidateScore{
				CandidateID:     candidate.CandidateID,
				Score:           result.Score,
				Details:         result.Details,
				Recommendations: result.Recommendations,
			}
		}(idx)
	}
	wg.Wait()

	sort.SliceStable(scores, func(i, j int) bool {
		if (scores[i].Err == nil) != (scores[j].Err == nil) {
			return scores[i].Err == nil
		}
		return scores[i].Score > scores[j].Score
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}

	logger.Info().
		Str("job_id", jobID).
		Int("candidates", len(candidates)).
		Int("evaluated", len(pending)).
		Msg("岗位维度批量匹配完成")
	return scores, nil
}

// resolveJobs 将岗位ID列表解析为在线岗位，空列表表示全部在线岗位
func (s *MatchService) resolveJobs(ctx context.Context, jobIDs []string) ([]*types.JobPosting, error) {
	if len(jobIDs) == 0 {
		jobs, err := s.jobs.ListActiveJobs(ctx)
		if err != nil {
			return nil, NewExternalServiceError("", "list_jobs", err.Error())
		}
		return jobs, nil
	}

	jobs := make([]*types.JobPosting, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, err := s.jobs.GetJobByID(ctx, id)
		if err != nil {
			return nil, NewExternalServiceError(id, "get_job", err.Error())
		}
		if job == nil || !job.Active {
			return nil, NewNotFoundError(id, "岗位不存在或已下线")
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ResetMatches 清空岗位的匹配缓存，jobID为空时清空全部
func (s *MatchService) ResetMatches(ctx context.Context, jobID string) (int64, error) {
	n, err := s.matches.ResetMatches(ctx, jobID)
	if err != nil {
		return 0, NewExternalServiceError(jobID, "reset_matches", err.Error())
	}
	return n, nil
}

// candidateMatchText 拼装评估用的候选人画像文本
func candidateMatchText(c *types.CandidateRecord) string {
	var b strings.Builder
	if c.Personal.Name != "" {
		fmt.Fprintf(&b, "姓名: %s\n", c.Personal.Name)
	}
	if c.Personal.Summary != "" {
		fmt.Fprintf(&b, "简介: %s\n", c.Personal.Summary)
	}

	if len(c.Education) > 0 {
		b.WriteString("\n教育经历:\n")
		for _, edu := range c.Education {
			fmt.Fprintf(&b, "- %s %s %s", edu.Degree, edu.Field, edu.Institution)
			if edu.GPA > 0 {
				fmt.Fprintf(&b, " (GPA: %.2f)", edu.GPA)
			}
			b.WriteString("\n")
		}
	}

	if len(c.Experience) > 0 {
		b.WriteString("\n工作经历:\n")
		for _, exp := range c.Experience {
			fmt.Fprintf(&b, "- %s @ %s (%s - %s)\n", exp.Position, exp.Company, exp.StartDate, exp.EndDate)
			if exp.Description != "" {
				fmt.Fprintf(&b, "  %s\n", exp.Description)
			}
		}
	}

	if items := c.AllSkillItems(); len(items) > 0 {
		fmt.Fprintf(&b, "\n技能: %s\n", strings.Join(items, ", "))
	}
	for _, cert := range c.Certifications {
		fmt.Fprintf(&b, "证书: %s\n", cert.Name)
	}
	for _, p := range c.Projects {
		fmt.Fprintf(&b, "项目: %s %s\n", p.Name, p.Description)
	}
	return b.String()
}

// jobMatchText 拼装评估用的岗位描述文本
func jobMatchText(j *types.JobPosting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "岗位: %s\n", j.Title)
	if j.Company != "" {
		fmt.Fprintf(&b, "公司: %s\n", j.Company)
	}
	if j.Location != "" {
		fmt.Fprintf(&b, "地点: %s\n", j.Location)
	}
	if j.ExperienceLevel != "" {
		fmt.Fprintf(&b, "经验要求: %s\n", j.ExperienceLevel)
	}
	if j.EducationLevel != "" {
		fmt.Fprintf(&b, "学历要求: %s\n", j.EducationLevel)
	}
	if j.Description != "" {
		fmt.Fprintf(&b, "\n岗位描述:\n%s\n", j.Description)
	}
	if len(j.Requirements) > 0 {
		fmt.Fprintf(&b, "\n任职要求:\n- %s\n", strings.Join(j.Requirements, "\n- "))
	}
	if len(j.Responsibilities) > 0 {
		fmt.Fprintf(&b, "\n工作职责:\n- %s\n", strings.Join(j.Responsibilities, "\n- "))
	}
	if len(j.Skills) > 0 {
		fmt.Fprintf(&b, "\n技能要求: %s\n", strings.Join(j.Skills, ", "))
	}
	if j.RawDescription != "" && j.Description == "" {
		fmt.Fprintf(&b, "\n原始描述:\n%s\n", j.RawDescription)
	}
	return b.String()
}
