package processor

import (
	"context"

	"github.com/cloudwego/eino/components/embedding"

	"cv-match-go/internal/storage/models"
	"cv-match-go/internal/types"
)

//
// PDF解析相关接口
//

// PDFTextExtractor PDF文本提取接口
type PDFTextExtractor interface {
	// ExtractFromFile 从PDF文件提取完整文本
	ExtractFromFile(ctx context.Context, filePath string) (string, error)
}

// PDFImageExtractor PDF页面图片提取接口（视觉回退路径）
type PDFImageExtractor interface {
	// ExtractPageImages 提取PDF各页图片
	ExtractPageImages(ctx context.Context, filePath string) ([][]byte, error)
}

//
// LLM提取与评估接口
//

// CVStructurer 简历结构化提取接口
type CVStructurer interface {
	// ExtractFromText 从简历纯文本提取结构化字段
	ExtractFromText(ctx context.Context, rawText string) (*types.CandidateRecord, error)

	// ExtractFromImages 从简历页面图片提取结构化字段
	ExtractFromImages(ctx context.Context, images [][]byte) (*types.CandidateRecord, error)
}

// MatchEvaluator 人岗匹配评估接口
type MatchEvaluator interface {
	// EvaluateMatch 评估一对候选人与岗位
	EvaluateMatch(ctx context.Context, candidateText, jobText string) (*types.MatchResult, error)
}

// TextEmbedder 文本向量化接口 (符合 cloudwego/eino 规范)
type TextEmbedder interface {
	// EmbedStrings 将文本转换为向量表示
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)

	// GetDimensions 返回嵌入向量的维度
	GetDimensions() int
}

//
// 存储相关接口
//

// CandidateStore 候选人持久层接口
type CandidateStore interface {
	SaveCandidate(ctx context.Context, rec *types.CandidateRecord) error
	GetCandidateByID(ctx context.Context, candidateID string) (*types.CandidateRecord, error)
	ListCandidates(ctx context.Context, offset, limit int) ([]*types.CandidateRecord, int64, error)
	DeleteCandidate(ctx context.Context, candidateID string) error
	FindEmbeddedCandidates(ctx context.Context, filters types.SearchFilters) ([]*types.CandidateRecord, error)
}

// JobStore 岗位持久层接口
type JobStore interface {
	CreateJob(ctx context.Context, p *types.JobPosting) error
	UpdateJob(ctx context.Context, p *types.JobPosting) error
	GetJobByID(ctx context.Context, jobID string) (*types.JobPosting, error)
	ListActiveJobs(ctx context.Context) ([]*types.JobPosting, error)
	SoftDeleteJob(ctx context.Context, jobID string) error
}

// MatchStore 匹配缓存持久层接口
type MatchStore interface {
	GetMatch(ctx context.Context, candidateID, jobID string) (*models.CandidateJobMatch, error)
	UpsertMatch(ctx context.Context, row *models.CandidateJobMatch) error
	ListMatchesForJob(ctx context.Context, jobID string) ([]models.CandidateJobMatch, error)
	ListMatchesForCandidate(ctx context.Context, candidateID string) ([]models.CandidateJobMatch, error)
	ResetMatches(ctx context.Context, jobID string) (int64, error)
}

// ChatStore 对话记录持久层接口
type ChatStore interface {
	SaveChatTurn(ctx context.Context, turn *types.ChatTurn) error
	ListChatTurns(ctx context.Context, limit int) ([]*types.ChatTurn, error)
	DeleteChatTurns(ctx context.Context) error
}

// DedupeStore 解析文本去重接口
type DedupeStore interface {
	// CheckAndAddParsedTextMD5 原子检查并记录，返回true表示已存在
	CheckAndAddParsedTextMD5(ctx context.Context, md5Hex string) (bool, error)

	// RemoveParsedTextMD5 回滚去重记录
	RemoveParsedTextMD5(ctx context.Context, md5Hex string) error
}

// QueryVectorCache 查询向量缓存接口
type QueryVectorCache interface {
	GetQueryEmbedding(ctx context.Context, queryMD5 string) ([]float64, error)
	SetQueryEmbedding(ctx context.Context, queryMD5 string, vec []float64) error
}
