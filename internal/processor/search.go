package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"cv-match-go/internal/constants"
	"cv-match-go/internal/logger"
	"cv-match-go/internal/types"
	"cv-match-go/pkg/utils"
)

// SearchEngine 混合检索引擎：结构化过滤 + 语义向量排序。
// 残余语义文本过短时退化为纯过滤模式。
type SearchEngine struct {
	parser       *QueryParser
	store        CandidateStore
	embedder     TextEmbedder
	vecCache     QueryVectorCache // 可为nil，此时每次查询都重新向量化
	defaultLimit int
}

// NewSearchEngine 创建检索引擎
func NewSearchEngine(parser *QueryParser, store CandidateStore, embedder TextEmbedder, vecCache QueryVectorCache, defaultLimit int) *SearchEngine {
	if defaultLimit <= 0 {
		defaultLimit = constants.DefaultSearchLimit
	}
	return &SearchEngine{
		parser:       parser,
		store:        store,
		embedder:     embedder,
		vecCache:     vecCache,
		defaultLimit: defaultLimit,
	}
}

// Search 执行混合检索。只有已完成向量化的候选人参与检索。
func (s *SearchEngine) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}

	filters, residual := s.parser.Parse(query)

	candidates, err := s.store.FindEmbeddedCandidates(ctx, filters)
	if err != nil {
		return nil, NewExternalServiceError("", "search_db", err.Error())
	}

	// SQL层只做粗筛，这里按精确谓词复核
	matched := make([]*types.CandidateRecord, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		if MatchesFilters(c, filters) {
			matched = append(matched, c)
		}
	}

	// 残余语义过短或过滤集为空：纯过滤模式，不做向量排序。
	// 结果保持过滤集原序，分数统一为1.0。
	if len(strings.TrimSpace(residual)) < constants.MinSemanticQueryLen || len(matched) == 0 {
		if len(matched) > limit {
			matched = matched[:limit]
		}
		results := make([]types.SearchResult, 0, len(matched))
		for _, c := range matched {
			results = append(results, types.SearchResult{
				Candidate: c,
				Score:     1.0,
				MatchType: types.MatchTypeFilter,
			})
		}
		logger.Debug().Str("query", query).Int("hits", len(results)).Msg("纯过滤检索完成")
		return results, nil
	}

	queryVec, err := s.embedQuery(ctx, residual)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(matched))
	for _, c := range matched {
		score := CosineSimilarity(queryVec, c.Embedding)
		// 余弦值限制在 [0,1]，负相关按无关处理
		if score < 0 {
			score = 0
		}
		results = append(results, types.SearchResult{
			Candidate: c,
			Score:     score,
			MatchType: types.MatchTypeHybrid,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	logger.Debug().Str("query", query).Str("residual", residual).Int("hits", len(results)).Msg("混合检索完成")
	return results, nil
}

// embedQuery 向量化残余查询文本，带Redis缓存
func (s *SearchEngine) embedQuery(ctx context.Context, residual string) ([]float64, error) {
	queryMD5 := utils.CalculateMD5([]byte(residual))

	if s.vecCache != nil {
		cached, err := s.vecCache.GetQueryEmbedding(ctx, queryMD5)
		if err != nil {
			logger.Warn().Err(err).Msg("读取查询向量缓存失败，回退到实时向量化")
		} else if cached != nil {
			return cached, nil
		}
	}

	vectors, err := s.embedder.EmbedStrings(ctx, []string{residual})
	if err != nil {
		return nil, NewEmbeddingError("", fmt.Sprintf("查询向量化失败: %v", err))
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, NewEmbeddingError("", "查询向量化返回空结果")
	}

	if s.vecCache != nil {
		if err := s.vecCache.SetQueryEmbedding(ctx, queryMD5, vectors[0]); err != nil {
			logger.Warn().Err(err).Msg("写入查询向量缓存失败")
		}
	}
	return vectors[0], nil
}

// MatchesFilters 判断候选人是否满足全部过滤条件。
// 条件为加性语义：空条件恒为真。
func MatchesFilters(c *types.CandidateRecord, filters types.SearchFilters) bool {
	if filters.MinGPA != nil {
		ok := false
		for _, edu := range c.Education {
			if edu.GPA >= *filters.MinGPA {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if filters.Employer != "" {
		ok := false
		for _, exp := range c.Experience {
			if containsFold(exp.Company, filters.Employer) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if filters.Institution != "" {
		ok := false
		for _, edu := range c.Education {
			if containsFold(edu.Institution, filters.Institution) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	for _, skill := range filters.Skills {
		if !candidateHasSkill(c, skill) {
			return false
		}
	}
	return true
}

// candidateHasSkill 技能匹配：先查技能分组，再退回可检索文本
func candidateHasSkill(c *types.CandidateRecord, skill string) bool {
	for _, item := range c.AllSkillItems() {
		if containsFold(item, skill) {
			return true
		}
	}
	return containsFold(c.SearchableText, skill)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// CosineSimilarity 余弦相似度。维度不一致或任一向量为零向量时返回0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
