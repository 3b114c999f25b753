package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cv-match-go/internal/constants"
	"cv-match-go/internal/logger"
	"cv-match-go/internal/parser"
	"cv-match-go/internal/tracing"
	"cv-match-go/internal/types"
	"cv-match-go/pkg/utils"
)

var pipelineTracer = otel.Tracer("cv-match-go/processor/pipeline")

// FileStore 简历原始文件的对象存储接口
type FileStore interface {
	UploadCVFile(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// Pipeline 简历提取流水线：文本提取 -> 充分性判定 -> 结构化 -> 向量化 -> 持久化。
// 文本不充分时走视觉路径，视觉失败且原始文本非空时降级回文本路径。
type Pipeline struct {
	textExtractor  PDFTextExtractor
	imageExtractor PDFImageExtractor
	structurer     CVStructurer
	embedder       TextEmbedder
	candidates     CandidateStore
	dedupe         DedupeStore // 可为nil，此时不做内容去重
	files          FileStore   // 可为nil，此时不保留原始文件
}

// NewPipeline 创建提取流水线
func NewPipeline(
	textExtractor PDFTextExtractor,
	imageExtractor PDFImageExtractor,
	structurer CVStructurer,
	embedder TextEmbedder,
	candidates CandidateStore,
	dedupe DedupeStore,
	files FileStore,
) *Pipeline {
	return &Pipeline{
		textExtractor:  textExtractor,
		imageExtractor: imageExtractor,
		structurer:     structurer,
		embedder:       embedder,
		candidates:     candidates,
		dedupe:         dedupe,
		files:          files,
	}
}

// ProcessCVFile 处理一份简历文件并返回持久化后的候选人记录。
// fileName 为上传时的原始文件名，仅用于展示和对象命名。
func (p *Pipeline) ProcessCVFile(ctx context.Context, filePath, fileName string) (*types.CandidateRecord, error) {
	return p.ProcessCVFileAs(ctx, filePath, fileName, uuid.NewString())
}

// ProcessCVFileAs 同 ProcessCVFile，但使用调用方预分配的候选人ID。
// 异步上传在入队时已把ID返回给客户端，消费侧必须沿用。
func (p *Pipeline) ProcessCVFileAs(ctx context.Context, filePath, fileName, candidateID string) (*types.CandidateRecord, error) {
	// 文件名可能含候选人姓名，上报前掩码
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.ProcessCVFile",
		trace.WithAttributes(
			attribute.String("cv.candidate_id", candidateID),
			attribute.String("cv.file_name", tracing.SafeAttributeValue("file_name", fileName, tracing.DefaultMaxLength)),
		))
	defer span.End()

	record, err := p.processCVFile(ctx, filePath, fileName, candidateID)
	if err != nil {
		tracing.RecordError(span, err, pipelineErrorType(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("cv.extraction_method", record.ExtractionMethod),
		attribute.String("cv.text_preview", tracing.SafeCVContent(record.RawText)),
	)
	span.SetStatus(codes.Ok, "")
	return record, nil
}

func (p *Pipeline) processCVFile(ctx context.Context, filePath, fileName, candidateID string) (*types.CandidateRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, NewFileReadError(candidateID, err.Error())
	}

	rawText, textErr := p.textExtractor.ExtractFromFile(ctx, filePath)
	if textErr != nil {
		logger.Warn().Err(textErr).Str("candidate_id", candidateID).Msg("PDF文本提取失败，将尝试视觉路径")
		rawText = ""
	}

	// 去重键：优先用解析文本，扫描件等无文本时退回文件内容
	dedupeKey := utils.CalculateMD5([]byte(compressWhitespace(rawText)))
	if strings.TrimSpace(rawText) == "" {
		dedupeKey = utils.CalculateMD5(data)
	}
	if p.dedupe != nil {
		exists, err := p.dedupe.CheckAndAddParsedTextMD5(ctx, dedupeKey)
		if err != nil {
			logger.Warn().Err(err).Msg("去重检查失败，按非重复继续处理")
		} else if exists {
			return nil, NewDuplicateError(candidateID, "相同内容的简历已处理过")
		}
	}

	record, method, err := p.structure(ctx, candidateID, filePath, rawText)
	if err != nil {
		p.rollbackDedupe(ctx, dedupeKey)
		return nil, err
	}

	now := time.Now()
	record.CandidateID = candidateID
	record.FileName = fileName
	record.ExtractedAt = now
	record.ExtractionMethod = method
	record.RawText = rawText
	record.SearchableText = record.BuildSearchableText()

	vectors, err := p.embedder.EmbedStrings(ctx, []string{record.SearchableText})
	if err != nil || len(vectors) == 0 {
		p.rollbackDedupe(ctx, dedupeKey)
		if err == nil {
			err = fmt.Errorf("向量化返回空结果")
		}
		return nil, NewEmbeddingError(candidateID, err.Error())
	}
	record.Embedding = vectors[0]

	if err := p.candidates.SaveCandidate(ctx, record); err != nil {
		p.rollbackDedupe(ctx, dedupeKey)
		return nil, NewExternalServiceError(candidateID, "save_candidate", err.Error())
	}

	if p.files != nil {
		objectName := candidateID + strings.ToLower(filepath.Ext(fileName))
		if _, err := p.files.UploadCVFile(ctx, objectName, data, ""); err != nil {
			logger.Warn().Err(err).Str("candidate_id", candidateID).Msg("上传原始文件失败，结构化数据已保存")
		}
	}

	logger.Info().
		Str("candidate_id", candidateID).
		Str("method", method).
		Int("text_len", len(rawText)).
		Msg("简历处理完成")
	return record, nil
}

// structure 按状态机选择提取路径，返回记录与实际使用的提取方式
func (p *Pipeline) structure(ctx context.Context, candidateID, filePath, rawText string) (*types.CandidateRecord, string, error) {
	if isTextSufficient(rawText) {
		record, err := p.structurer.ExtractFromText(ctx, rawText)
		if err != nil {
			return nil, "", p.wrapExtractionError(candidateID, "extract_text", err)
		}
		return record, constants.MethodText, nil
	}

	record, visionErr := p.structureFromImages(ctx, filePath)
	if visionErr == nil {
		return record, constants.MethodVision, nil
	}
	logger.Warn().Err(visionErr).Str("candidate_id", candidateID).Msg("视觉提取失败")

	// 文本不充分但非空：降级回文本路径做最后一次尝试
	if strings.TrimSpace(rawText) != "" {
		record, err := p.structurer.ExtractFromText(ctx, rawText)
		if err != nil {
			return nil, "", p.wrapExtractionError(candidateID, "extract_text_fallback", err)
		}
		return record, constants.MethodTextFallback, nil
	}

	return nil, "", p.wrapExtractionError(candidateID, "extract_vision", visionErr)
}

func (p *Pipeline) structureFromImages(ctx context.Context, filePath string) (*types.CandidateRecord, error) {
	if p.imageExtractor == nil {
		return nil, fmt.Errorf("未配置视觉提取路径")
	}
	images, err := p.imageExtractor.ExtractPageImages(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("提取页面图片失败: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("PDF中未提取到页面图片")
	}
	return p.structurer.ExtractFromImages(ctx, images)
}

// pipelineErrorType 将流水线错误映射到追踪后端的错误分类
func pipelineErrorType(err error) tracing.ErrorType {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicate):
		return tracing.ErrorTypeValidation
	case errors.Is(err, ErrExternalService):
		return tracing.ErrorTypeLLM
	default:
		return tracing.ErrorTypeInternal
	}
}

func (p *Pipeline) wrapExtractionError(candidateID, op string, err error) error {
	if errors.Is(err, parser.ErrInvalidExtraction) {
		return NewValidationError(candidateID, err.Error())
	}
	return NewExternalServiceError(candidateID, op, err.Error())
}

func (p *Pipeline) rollbackDedupe(ctx context.Context, dedupeKey string) {
	if p.dedupe == nil {
		return
	}
	if err := p.dedupe.RemoveParsedTextMD5(ctx, dedupeKey); err != nil {
		logger.Warn().Err(err).Msg("回滚去重记录失败")
	}
}

// isTextSufficient 判定提取文本是否足以支撑文本路径：
// 压缩空白后长度达到下限，且字母数字占比不低于阈值。
// 扫描件通常只抽出少量乱码，两个条件都会失败。
func isTextSufficient(text string) bool {
	compressed := compressWhitespace(text)
	if len([]rune(compressed)) < constants.MinSufficientTextLen {
		return false
	}
	return alnumRatio(compressed) >= constants.MinAlnumRatio
}

func compressWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func alnumRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	count := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
		}
	}
	return float64(count) / float64(len(runes))
}
