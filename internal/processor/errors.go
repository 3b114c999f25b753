package processor

import (
	"errors"
	"fmt"
)

// 错误分类。上层按类别映射HTTP状态码，按语义区分可重试与否。
var (
	ErrFileRead        = errors.New("读取简历文件失败")
	ErrExternalService = errors.New("外部服务调用失败")
	ErrValidation      = errors.New("数据校验失败")
	ErrNotFound        = errors.New("记录不存在")
	ErrEmbedding       = errors.New("向量化失败")
	ErrDuplicate       = errors.New("重复的简历内容")
)

// ProcessError 携带操作名与对象ID的错误包装
type ProcessError struct {
	ID      string // 候选人/岗位ID
	Op      string
	BaseErr error
	Detail  string
}

func (e *ProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, ID:%s): %s", e.BaseErr, e.Op, e.ID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, ID:%s)", e.BaseErr, e.Op, e.ID)
}

func (e *ProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 以支持按类别比较
func (e *ProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

func NewFileReadError(id, detail string) error {
	return &ProcessError{ID: id, Op: "read_file", BaseErr: ErrFileRead, Detail: detail}
}

func NewExternalServiceError(id, op, detail string) error {
	return &ProcessError{ID: id, Op: op, BaseErr: ErrExternalService, Detail: detail}
}

func NewValidationError(id, detail string) error {
	return &ProcessError{ID: id, Op: "validate", BaseErr: ErrValidation, Detail: detail}
}

func NewNotFoundError(id, detail string) error {
	return &ProcessError{ID: id, Op: "lookup", BaseErr: ErrNotFound, Detail: detail}
}

func NewEmbeddingError(id, detail string) error {
	return &ProcessError{ID: id, Op: "embed", BaseErr: ErrEmbedding, Detail: detail}
}

func NewDuplicateError(id, detail string) error {
	return &ProcessError{ID: id, Op: "dedupe", BaseErr: ErrDuplicate, Detail: detail}
}
