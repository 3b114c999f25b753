package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"cv-match-go/internal/config"
	"cv-match-go/internal/logger"
	"cv-match-go/internal/processor"
	"cv-match-go/internal/storage"
)

// CandidateHandler 候选人相关接口：上传、查询、删除
type CandidateHandler struct {
	pipeline   *processor.Pipeline
	candidates processor.CandidateStore
	files      *storage.MinIO   // 可为nil
	mq         *storage.RabbitMQ // 可为nil，异步上传接口不可用
}

// NewCandidateHandler 创建候选人接口处理器
func NewCandidateHandler(pipeline *processor.Pipeline, candidates processor.CandidateStore, files *storage.MinIO, mq *storage.RabbitMQ) *CandidateHandler {
	return &CandidateHandler{
		pipeline:   pipeline,
		candidates: candidates,
		files:      files,
		mq:         mq,
	}
}

// HandleUploadCV 同步上传并处理简历
// POST /api/v1/candidates/upload
func (h *CandidateHandler) HandleUploadCV(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "文件未找到"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "仅支持PDF格式"})
		return
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("cv-upload-%s.pdf", uuid.NewString()))
	if err := c.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "保存上传文件失败"})
		return
	}
	defer os.Remove(tmpPath)

	record, err := h.pipeline.ProcessCVFile(ctx, tmpPath, fileHeader.Filename)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("file_name", fileHeader.Filename).Msg("处理上传简历失败")
		c.JSON(statusForError(err), map[string]string{"error": err.Error()})
		return
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"message":           "简历处理完成",
		"candidate_id":      record.CandidateID,
		"extraction_method": record.ExtractionMethod,
		"name":              record.Personal.Name,
	})
}

// HandleUploadCVAsync 异步上传：文件暂存MinIO后发布消息，由消费者处理
// POST /api/v1/candidates/upload/async
func (h *CandidateHandler) HandleUploadCVAsync(ctx context.Context, c *app.RequestContext) {
	if h.mq == nil || h.files == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "异步上传通道未启用"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "文件未找到"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "仅支持PDF格式"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "读取文件失败"})
		return
	}

	candidateID := uuid.NewString()
	objectName := fmt.Sprintf("staging/%s.pdf", candidateID)
	if _, err := h.files.UploadCVFile(ctx, objectName, data, "application/pdf"); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("暂存上传文件失败")
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "暂存文件失败"})
		return
	}

	msg := storage.CVUploadedMessage{
		CandidateID: candidateID,
		ObjectName:  objectName,
		FileName:    fileHeader.Filename,
		UploadedAt:  time.Now(),
	}
	if err := h.mq.PublishCVUploaded(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("发布上传消息失败")
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "发布处理任务失败"})
		return
	}

	c.JSON(consts.StatusAccepted, map[string]interface{}{
		"message":      "简历已入队，稍后完成处理",
		"candidate_id": candidateID,
	})
}

// StartUploadConsumer 启动异步上传消费者，从队列取消息并执行提取流水线。
// 返回的通道用于停止消费。
func (h *CandidateHandler) StartUploadConsumer(cfg *config.RabbitMQConfig) (chan<- struct{}, error) {
	if h.mq == nil || h.files == nil {
		return nil, fmt.Errorf("RabbitMQ或MinIO未初始化，无法启动消费者")
	}
	if err := h.mq.SetupUploadTopology(); err != nil {
		return nil, fmt.Errorf("初始化上传队列拓扑失败: %w", err)
	}
	return h.mq.StartConsumer(cfg.UploadQueue, cfg.PrefetchCount, h.consumeUploadMessage)
}

// consumeUploadMessage 处理一条上传消息。返回true表示ack。
// 永久性失败（重复、校验不通过、消息格式错误）直接ack丢弃，
// 避免毒消息无限重投。
func (h *CandidateHandler) consumeUploadMessage(body []byte) bool {
	ctx := context.Background()

	var msg storage.CVUploadedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Error().Err(err).Msg("解析上传消息失败，丢弃")
		return true
	}

	data, err := h.files.GetCVFile(ctx, msg.ObjectName)
	if err != nil {
		logger.Error().Err(err).Str("object", msg.ObjectName).Msg("下载暂存文件失败，重新入队")
		return false
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("cv-consume-%s.pdf", msg.CandidateID))
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		logger.Error().Err(err).Msg("写入临时文件失败，重新入队")
		return false
	}
	defer os.Remove(tmpPath)

	record, err := h.pipeline.ProcessCVFileAs(ctx, tmpPath, msg.FileName, msg.CandidateID)
	if err != nil {
		if errors.Is(err, processor.ErrDuplicate) || errors.Is(err, processor.ErrValidation) {
			logger.Warn().Err(err).Str("candidate_id", msg.CandidateID).Msg("简历不可处理，丢弃消息")
			return true
		}
		logger.Error().Err(err).Str("candidate_id", msg.CandidateID).Msg("异步处理简历失败，重新入队")
		return false
	}

	// 正式对象已由流水线写入，清掉暂存对象
	if err := h.files.DeleteFile(ctx, msg.ObjectName); err != nil {
		logger.Warn().Err(err).Str("object", msg.ObjectName).Msg("删除暂存文件失败")
	}

	logger.Info().
		Str("candidate_id", record.CandidateID).
		Str("method", record.ExtractionMethod).
		Msg("异步简历处理完成")
	return true
}

// HandleGetCandidate 获取候选人结构化简历
// GET /api/v1/candidates/:candidate_id
func (h *CandidateHandler) HandleGetCandidate(ctx context.Context, c *app.RequestContext) {
	candidateID := c.Param("candidate_id")
	if candidateID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "candidate_id 不能为空"})
		return
	}

	record, err := h.candidates.GetCandidateByID(ctx, candidateID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询候选人失败"})
		return
	}
	if record == nil {
		c.JSON(consts.StatusNotFound, map[string]string{"error": fmt.Sprintf("候选人 %s 不存在", candidateID)})
		return
	}

	// 向量只在检索内部使用，不对外返回
	record.Embedding = nil
	c.JSON(consts.StatusOK, record)
}

// HandleListCandidates 分页列出候选人
// GET /api/v1/candidates?offset=0&limit=20
func (h *CandidateHandler) HandleListCandidates(ctx context.Context, c *app.RequestContext) {
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}

	records, total, err := h.candidates.ListCandidates(ctx, offset, limit)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询候选人列表失败"})
		return
	}
	for _, r := range records {
		r.Embedding = nil
		r.RawText = ""
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":        records,
		"total_count": total,
		"offset":      offset,
		"limit":       limit,
	})
}

// HandleDeleteCandidate 删除候选人及其匹配记录
// DELETE /api/v1/candidates/:candidate_id
func (h *CandidateHandler) HandleDeleteCandidate(ctx context.Context, c *app.RequestContext) {
	candidateID := c.Param("candidate_id")
	if candidateID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "candidate_id 不能为空"})
		return
	}

	record, err := h.candidates.GetCandidateByID(ctx, candidateID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询候选人失败"})
		return
	}
	if record == nil {
		c.JSON(consts.StatusNotFound, map[string]string{"error": fmt.Sprintf("候选人 %s 不存在", candidateID)})
		return
	}

	if err := h.candidates.DeleteCandidate(ctx, candidateID); err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "删除候选人失败"})
		return
	}

	// 原始文件清理尽力而为
	if h.files != nil && record.FileName != "" {
		objectName := candidateID + strings.ToLower(filepath.Ext(record.FileName))
		if err := h.files.DeleteFile(ctx, objectName); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("object", objectName).Msg("删除原始文件失败")
		}
	}

	c.JSON(consts.StatusOK, map[string]string{"message": "候选人已删除", "candidate_id": candidateID})
}
