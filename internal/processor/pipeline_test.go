package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-match-go/internal/constants"
	"cv-match-go/internal/parser"
	"cv-match-go/internal/types"
)

const sufficientCVText = `John Doe is a senior software engineer with eight years of experience
building distributed backend services in Go and Python at several companies.`

func validRecord() *types.CandidateRecord {
	return &types.CandidateRecord{
		Personal: types.PersonalInfo{Name: "John Doe", Email: "john@example.com"},
		Education: []types.Education{
			{Institution: "MIT", Degree: "BSc", GPA: 3.7},
		},
		Experience: []types.Experience{
			{Company: "Google", Position: "Software Engineer"},
		},
	}
}

func writeTempPDF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cv.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestPipeline(text *fakeTextExtractor, images *fakeImageExtractor, structurer *fakeStructurer) (*Pipeline, *fakeCandidateStore, *fakeDedupeStore, *fakeFileStore) {
	store := newFakeCandidateStore()
	dedupe := newFakeDedupeStore()
	files := newFakeFileStore()
	p := NewPipeline(text, images, structurer, &fakeEmbedder{vector: []float64{0.1, 0.2, 0.3}}, store, dedupe, files)
	return p, store, dedupe, files
}

func TestIsTextSufficient(t *testing.T) {
	assert.True(t, isTextSufficient(sufficientCVText))
	assert.False(t, isTextSufficient(""), "空文本不充分")
	assert.False(t, isTextSufficient("short text"), "过短文本不充分")

	// 长度够但几乎全是符号（扫描件常见的乱码输出）
	garbage := strings.Repeat(". - | ~ ", 20)
	assert.False(t, isTextSufficient(garbage), "字母数字占比过低不充分")

	// 空白不参与长度统计
	padded := "ab \n\t " + strings.Repeat(" ", 200) + " cd"
	assert.False(t, isTextSufficient(padded))
}

func TestPipelineTextPath(t *testing.T) {
	text := &fakeTextExtractor{text: sufficientCVText}
	images := &fakeImageExtractor{}
	structurer := &fakeStructurer{textRecord: validRecord()}
	p, store, _, files := newTestPipeline(text, images, structurer)

	path := writeTempPDF(t, "%PDF-1.4 fake")
	record, err := p.ProcessCVFile(context.Background(), path, "john_doe.pdf")
	require.NoError(t, err)

	assert.Equal(t, constants.MethodText, record.ExtractionMethod)
	assert.Equal(t, 1, structurer.textCalls)
	assert.Zero(t, structurer.visionCalls, "文本充分时不应走视觉路径")
	assert.NotEmpty(t, record.CandidateID)
	assert.Equal(t, "john_doe.pdf", record.FileName)
	assert.NotEmpty(t, record.SearchableText, "持久化前应生成可检索文本")
	assert.NotEmpty(t, record.Embedding)
	assert.Len(t, store.saved, 1)
	assert.Len(t, files.objects, 1, "原始文件应上传对象存储")
}

func TestPipelineVisionPath(t *testing.T) {
	text := &fakeTextExtractor{text: "ab"} // 不充分
	images := &fakeImageExtractor{images: [][]byte{{0x89, 0x50}}}
	structurer := &fakeStructurer{visionRecord: validRecord()}
	p, store, _, _ := newTestPipeline(text, images, structurer)

	record, err := p.ProcessCVFile(context.Background(), writeTempPDF(t, "scan"), "scan.pdf")
	require.NoError(t, err)

	assert.Equal(t, constants.MethodVision, record.ExtractionMethod)
	assert.Equal(t, 1, structurer.visionCalls)
	assert.Zero(t, structurer.textCalls)
	assert.Len(t, store.saved, 1)
}

func TestPipelineTextFallback(t *testing.T) {
	// 文本不充分但非空，视觉路径失败后降级回文本路径
	text := &fakeTextExtractor{text: "John Doe short resume"}
	images := &fakeImageExtractor{err: errors.New("图片提取失败")}
	structurer := &fakeStructurer{textRecord: validRecord()}
	p, _, _, _ := newTestPipeline(text, images, structurer)

	record, err := p.ProcessCVFile(context.Background(), writeTempPDF(t, "x"), "cv.pdf")
	require.NoError(t, err)

	assert.Equal(t, constants.MethodTextFallback, record.ExtractionMethod)
	assert.Equal(t, 1, images.calls, "应先尝试视觉路径")
	assert.Equal(t, 1, structurer.textCalls)
}

func TestPipelineBothPathsFail(t *testing.T) {
	// 文本为空且视觉失败，整体失败
	text := &fakeTextExtractor{text: ""}
	images := &fakeImageExtractor{err: errors.New("图片提取失败")}
	structurer := &fakeStructurer{textRecord: validRecord()}
	p, store, dedupe, _ := newTestPipeline(text, images, structurer)

	_, err := p.ProcessCVFile(context.Background(), writeTempPDF(t, "x"), "cv.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Zero(t, structurer.textCalls, "无文本时不应降级到文本路径")
	assert.Empty(t, store.saved)
	assert.Len(t, dedupe.removed, 1, "失败后应回滚去重记录")
}

func TestPipelineDuplicateSkipped(t *testing.T) {
	text := &fakeTextExtractor{text: sufficientCVText}
	structurer := &fakeStructurer{textRecord: validRecord()}
	p, store, _, _ := newTestPipeline(text, &fakeImageExtractor{}, structurer)

	path := writeTempPDF(t, "same content")
	_, err := p.ProcessCVFile(context.Background(), path, "first.pdf")
	require.NoError(t, err)

	// 相同解析文本第二次上传
	_, err = p.ProcessCVFile(context.Background(), path, "second.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, store.saved, 1, "重复简历不应再次入库")
	assert.Equal(t, 1, structurer.textCalls, "重复简历不应再调用LLM")
}

func TestPipelineValidationFailureNoPersist(t *testing.T) {
	text := &fakeTextExtractor{text: sufficientCVText}
	structurer := &fakeStructurer{textErr: parser.ErrInvalidExtraction}
	p, store, dedupe, _ := newTestPipeline(text, &fakeImageExtractor{}, structurer)

	_, err := p.ProcessCVFile(context.Background(), writeTempPDF(t, "x"), "cv.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, store.saved, "校验失败不应入库")
	assert.Len(t, dedupe.removed, 1, "校验失败应回滚去重记录，允许修复后重传")
}

func TestPipelineSaveFailureRollsBackDedupe(t *testing.T) {
	text := &fakeTextExtractor{text: sufficientCVText}
	structurer := &fakeStructurer{textRecord: validRecord()}
	p, store, dedupe, _ := newTestPipeline(text, &fakeImageExtractor{}, structurer)
	store.saveErr = errors.New("数据库不可用")

	_, err := p.ProcessCVFile(context.Background(), writeTempPDF(t, "x"), "cv.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Len(t, dedupe.removed, 1)
}

func TestPipelineMissingFile(t *testing.T) {
	p, _, _, _ := newTestPipeline(&fakeTextExtractor{}, &fakeImageExtractor{}, &fakeStructurer{})

	_, err := p.ProcessCVFile(context.Background(), "/nonexistent/cv.pdf", "cv.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileRead)
}

func TestPipelinePreassignedID(t *testing.T) {
	text := &fakeTextExtractor{text: sufficientCVText}
	structurer := &fakeStructurer{textRecord: validRecord()}
	p, _, _, _ := newTestPipeline(text, &fakeImageExtractor{}, structurer)

	record, err := p.ProcessCVFileAs(context.Background(), writeTempPDF(t, "x"), "cv.pdf", "fixed-id-123")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id-123", record.CandidateID, "异步路径应沿用预分配ID")
}
