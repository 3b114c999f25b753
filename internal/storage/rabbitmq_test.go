package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCVUploadedMessageRoundTrip(t *testing.T) {
	uploadedAt := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	msg := CVUploadedMessage{
		CandidateID: "cand-001",
		ObjectName:  "staging/cand-001.pdf",
		FileName:    "张三-简历.pdf",
		UploadedAt:  uploadedAt,
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err, "消息应能序列化为JSON")
	assert.Contains(t, string(data), "2026-08-25T10:30:00Z", "时间字段应以RFC3339格式写入")

	var decoded CVUploadedMessage
	require.NoError(t, json.Unmarshal(data, &decoded), "消息应能从JSON还原")
	assert.Equal(t, msg.CandidateID, decoded.CandidateID, "候选人ID应保持不变")
	assert.Equal(t, msg.ObjectName, decoded.ObjectName, "对象名应保持不变")
	assert.Equal(t, msg.FileName, decoded.FileName, "文件名应保持不变")
	assert.True(t, decoded.UploadedAt.Equal(uploadedAt), "上传时间应在序列化往返后保持不变")
}
