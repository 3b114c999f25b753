package utils

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// CalculateMD5 计算字节内容的MD5十六进制摘要
func CalculateMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// TimePtr 返回时间值的指针
func TimePtr(t time.Time) *time.Time {
	return &t
}

// Float64Ptr 返回浮点值的指针
func Float64Ptr(f float64) *float64 {
	return &f
}
