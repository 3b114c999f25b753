package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFromResponse(t *testing.T) {
	t.Run("裸JSON", func(t *testing.T) {
		assert.Equal(t, `{"a": 1}`, extractJSONFromResponse(`{"a": 1}`))
	})

	t.Run("前后有解释文字", func(t *testing.T) {
		got := extractJSONFromResponse("提取结果如下：\n{\"a\": 1}\n以上。")
		assert.Equal(t, `{"a": 1}`, got)
	})

	t.Run("嵌套对象按括号层级配平", func(t *testing.T) {
		src := `{"a": {"b": {"c": 1}}} 残留文字 {"d": 2}`
		assert.Equal(t, `{"a": {"b": {"c": 1}}}`, extractJSONFromResponse(src))
	})

	t.Run("字符串内的花括号不参与配平", func(t *testing.T) {
		src := `{"text": "包含}右括号和{左括号"}`
		assert.Equal(t, src, extractJSONFromResponse(src))
	})

	t.Run("无JSON返回空", func(t *testing.T) {
		assert.Empty(t, extractJSONFromResponse("没有任何对象"))
		assert.Empty(t, extractJSONFromResponse("{未闭合"))
	})
}

func TestSanitizeJSON(t *testing.T) {
	// 字符串内部未转义的双引号应被补上转义
	src := `{"summary": "负责"核心"模块"}`
	fixed := sanitizeJSON(src)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(fixed), &out))
	assert.Equal(t, `负责"核心"模块`, out["summary"])

	// 已合法的JSON保持不变
	legal := `{"a": "b \"c\" d", "n": 1}`
	assert.Equal(t, legal, sanitizeJSON(legal))
}
