package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"cv-match-go/internal/constants"
)

func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	return recorder
}

func findSpan(t *testing.T, recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range recorder.Ended() {
		if span.Name() == name {
			return span
		}
	}
	t.Fatalf("未找到span %q", name)
	return nil
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestPipelineSpanAttributes(t *testing.T) {
	recorder := newSpanRecorder(t)

	text := &fakeTextExtractor{text: sufficientCVText}
	structurer := &fakeStructurer{textRecord: validRecord()}
	p, _, _, _ := newTestPipeline(text, &fakeImageExtractor{}, structurer)

	_, err := p.ProcessCVFile(context.Background(), writeTempPDF(t, "%PDF-1.4 fake"), "张三-简历.pdf")
	require.NoError(t, err)

	span := findSpan(t, recorder, "Pipeline.ProcessCVFile")

	method, ok := spanAttr(span, "cv.extraction_method")
	require.True(t, ok, "span应记录提取方式")
	assert.Equal(t, constants.MethodText, method.AsString())

	fileName, ok := spanAttr(span, "cv.file_name")
	require.True(t, ok, "span应记录文件名")
	assert.NotEqual(t, "张三-简历.pdf", fileName.AsString(), "文件名可能含姓名，上报前应掩码")
	assert.Contains(t, fileName.AsString(), "*", "掩码结果应包含掩码字符")

	_, ok = spanAttr(span, "cv.text_preview")
	assert.True(t, ok, "span应记录截断后的文本预览")
}

func TestMatchPairSpanMarksCacheHit(t *testing.T) {
	recorder := newSpanRecorder(t)

	candidate := testCandidate("c1", nil)
	job := testJob("j1", "后端工程师")
	matches := newFakeMatchStore()
	evaluator := &fakeEvaluator{result: evalResult(82)}
	seedCache(t, matches, candidate, job, 82, candidate.UpdatedAt, job.UpdatedAt, time.Now())

	svc := NewMatchService(newFakeCandidateStore(candidate), newFakeJobStore(job), matches, evaluator)
	_, err := svc.MatchCandidateToJob(context.Background(), "c1", "j1", false)
	require.NoError(t, err)

	span := findSpan(t, recorder, "MatchService.MatchPair")

	fromCache, ok := spanAttr(span, "match.from_cache")
	require.True(t, ok, "span应记录缓存命中情况")
	assert.True(t, fromCache.AsBool(), "有效缓存命中应标记 from_cache")

	score, ok := spanAttr(span, "match.score")
	require.True(t, ok, "span应记录分数")
	assert.InDelta(t, 82, score.AsFloat64(), 1e-9)
}
