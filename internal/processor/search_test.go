package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-match-go/internal/types"
	"cv-match-go/pkg/utils"
)

func testCandidate(id string, embedding []float64) *types.CandidateRecord {
	return &types.CandidateRecord{
		CandidateID: id,
		Personal:    types.PersonalInfo{Name: "候选人" + id},
		Education: []types.Education{
			{Institution: "MIT", Degree: "BSc", Field: "CS", GPA: 3.8},
		},
		Experience: []types.Experience{
			{Company: "Google", Position: "Software Engineer", Description: "backend services"},
		},
		Skills: []types.SkillGroup{
			{Category: "Programming", Items: []string{"Python", "Go"}},
		},
		SearchableText: "Software Engineer Google backend services Python Go BSc CS MIT",
		Embedding:      embedding,
		UpdatedAt:      time.Now(),
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9, "同向向量相似度为1")
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9, "正交向量相似度为0")
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// 零向量与维度不一致按0处理
	assert.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.Zero(t, CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestSearchHybridRanking(t *testing.T) {
	near := testCandidate("c1", []float64{1, 0, 0})
	far := testCandidate("c2", []float64{0, 1, 0})
	store := newFakeCandidateStore(near, far)
	embedder := &fakeEmbedder{vector: []float64{0.9, 0.1, 0}}

	engine := NewSearchEngine(NewQueryParser(), store, embedder, nil, 10)
	results, err := engine.Search(context.Background(), "distributed backend systems", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "c1", results[0].Candidate.CandidateID, "相似度高的排前面")
	assert.Equal(t, types.MatchTypeHybrid, results[0].MatchType)
	assert.Greater(t, results[0].Score, results[1].Score)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestSearchFilterOnlyFallback(t *testing.T) {
	store := newFakeCandidateStore(testCandidate("c1", []float64{1, 0, 0}))
	embedder := &fakeEmbedder{vector: []float64{1, 0, 0}}

	engine := NewSearchEngine(NewQueryParser(), store, embedder, nil, 10)

	// 查询完全被过滤条件消耗，残余为空
	results, err := engine.Search(context.Background(), "worked at Google", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.MatchTypeFilter, results[0].MatchType)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "纯过滤结果统一记满分")
	assert.Zero(t, embedder.calls, "纯过滤模式不应调用向量化")
}

func TestSearchShortResidualFallback(t *testing.T) {
	store := newFakeCandidateStore(testCandidate("c1", []float64{1, 0, 0}))
	embedder := &fakeEmbedder{vector: []float64{1, 0, 0}}
	engine := NewSearchEngine(NewQueryParser(), store, embedder, nil, 10)

	// 残余语义不足3个字符时退化为纯过滤
	results, err := engine.Search(context.Background(), "ab worked at Google", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.MatchTypeFilter, results[0].MatchType)
	assert.Zero(t, embedder.calls)
}

func TestSearchFilterPredicates(t *testing.T) {
	c := testCandidate("c1", []float64{1, 0, 0})

	cases := []struct {
		name    string
		filters types.SearchFilters
		want    bool
	}{
		{"空过滤条件", types.SearchFilters{}, true},
		{"GPA达标", types.SearchFilters{MinGPA: utils.Float64Ptr(3.5)}, true},
		{"GPA不足", types.SearchFilters{MinGPA: utils.Float64Ptr(3.9)}, false},
		{"雇主子串匹配", types.SearchFilters{Employer: "google"}, true},
		{"雇主不匹配", types.SearchFilters{Employer: "Amazon"}, false},
		{"院校匹配", types.SearchFilters{Institution: "mit"}, true},
		{"院校不匹配", types.SearchFilters{Institution: "Stanford"}, false},
		{"技能全部命中", types.SearchFilters{Skills: []string{"Python", "Go"}}, true},
		{"技能部分缺失", types.SearchFilters{Skills: []string{"Python", "Rust"}}, false},
		{"技能从可检索文本命中", types.SearchFilters{Skills: []string{"backend"}}, true},
		{"组合条件", types.SearchFilters{MinGPA: utils.Float64Ptr(3.5), Employer: "Google", Skills: []string{"Go"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchesFilters(c, tc.filters))
		})
	}
}

func TestSearchExcludesNonMatching(t *testing.T) {
	match := testCandidate("c1", []float64{1, 0, 0})
	noMatch := testCandidate("c2", []float64{1, 0, 0})
	noMatch.Experience = []types.Experience{{Company: "Amazon", Position: "SDE"}}
	store := newFakeCandidateStore(match, noMatch)

	engine := NewSearchEngine(NewQueryParser(), store, &fakeEmbedder{vector: []float64{1, 0, 0}}, nil, 10)
	results, err := engine.Search(context.Background(), "worked at Google", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Candidate.CandidateID)
}

func TestSearchQueryVectorCache(t *testing.T) {
	store := newFakeCandidateStore(testCandidate("c1", []float64{1, 0, 0}))
	embedder := &fakeEmbedder{vector: []float64{1, 0, 0}}
	cache := newFakeVectorCache()
	engine := NewSearchEngine(NewQueryParser(), store, embedder, cache, 10)

	query := "distributed backend systems"
	_, err := engine.Search(context.Background(), query, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls, "首次查询应调用向量化")

	_, err = engine.Search(context.Background(), query, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls, "二次查询应命中向量缓存")
	assert.Equal(t, 1, cache.hits)

	// 缓存键为残余文本的MD5
	residualMD5 := utils.CalculateMD5([]byte(query))
	_, ok := cache.store[residualMD5]
	assert.True(t, ok)
}

func TestSearchLimit(t *testing.T) {
	store := newFakeCandidateStore(
		testCandidate("c1", []float64{1, 0, 0}),
		testCandidate("c2", []float64{0.9, 0.1, 0}),
		testCandidate("c3", []float64{0.8, 0.2, 0}),
	)
	engine := NewSearchEngine(NewQueryParser(), store, &fakeEmbedder{vector: []float64{1, 0, 0}}, nil, 10)

	results, err := engine.Search(context.Background(), "backend systems", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
