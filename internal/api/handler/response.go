package handler

import (
	"errors"

	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"

	"cv-match-go/internal/processor"
)

// statusForError 将处理层错误类别映射为HTTP状态码
func statusForError(err error) int {
	switch {
	case errors.Is(err, processor.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return consts.StatusNotFound
	case errors.Is(err, processor.ErrValidation), errors.Is(err, processor.ErrFileRead):
		return consts.StatusBadRequest
	case errors.Is(err, processor.ErrDuplicate):
		return consts.StatusConflict
	default:
		return consts.StatusInternalServerError
	}
}
