package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullQuery(t *testing.T) {
	p := NewQueryParser()

	filters, residual := p.Parse("find candidates who worked at Google from MIT with gpa above 3.5 and experience in Python, Java and Go")

	require.NotNil(t, filters.MinGPA, "应提取GPA下界")
	assert.InDelta(t, 3.5, *filters.MinGPA, 1e-9)
	assert.Equal(t, "Google", filters.Employer, "应提取雇主")
	assert.Equal(t, "MIT", filters.Institution, "应提取院校")
	assert.Equal(t, []string{"Python", "Java", "Go"}, filters.Skills, "应提取技能列表")
	assert.NotContains(t, residual, "3.5", "残余文本不应含已提取片段")
	assert.NotContains(t, residual, "Google")
}

func TestParseGPAForms(t *testing.T) {
	p := NewQueryParser()

	cases := []struct {
		query string
		want  float64
	}{
		{"gpa above 3.5", 3.5},
		{"GPA over 3", 3.0},
		{"gpa greater than 3.2", 3.2},
		{"gpa at least 3.8", 3.8},
		{"gpa > 3.6", 3.6},
		{"gpa >= 3.0", 3.0},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			filters, residual := p.Parse(tc.query)
			require.NotNil(t, filters.MinGPA, "查询 %q 应提取GPA", tc.query)
			assert.InDelta(t, tc.want, *filters.MinGPA, 1e-9)
			assert.Empty(t, residual, "纯GPA查询的残余文本应为空")
		})
	}
}

func TestParseEmployerVariants(t *testing.T) {
	p := NewQueryParser()

	for _, query := range []string{
		"worked at Google",
		"works at Google",
		"working for Google",
		"work in Google",
	} {
		filters, _ := p.Parse(query)
		assert.Equal(t, "Google", filters.Employer, "查询 %q 应提取雇主", query)
	}
}

func TestParseInstitutionBoundary(t *testing.T) {
	p := NewQueryParser()

	// 多词院校名，后接with连接词
	filters, residual := p.Parse("candidates from Stanford University with gpa above 3")
	assert.Equal(t, "Stanford University", filters.Institution)
	require.NotNil(t, filters.MinGPA)
	assert.NotContains(t, residual, "with")

	// 单词院校名在句尾
	filters, _ = p.Parse("engineers from MIT")
	assert.Equal(t, "MIT", filters.Institution)
}

func TestParseSkillPhrases(t *testing.T) {
	p := NewQueryParser()

	filters, _ := p.Parse("skilled in React and familiar with Docker")
	assert.ElementsMatch(t, []string{"React", "Docker"}, filters.Skills)

	filters, _ = p.Parse("experience in C++, C# & Rust")
	assert.ElementsMatch(t, []string{"C++", "C#", "Rust"}, filters.Skills)

	// 同一技能多处出现只保留一次
	filters, _ = p.Parse("experience in Python and proficient in python")
	assert.Len(t, filters.Skills, 1)
}

func TestParseRolePhrase(t *testing.T) {
	p := NewQueryParser()

	filters, _ := p.Parse("python developers")
	assert.Equal(t, []string{"python"}, filters.Skills)

	filters, _ = p.Parse("machine learning engineers")
	assert.Equal(t, []string{"machine learning"}, filters.Skills)

	// 无技能含义的职位前缀不产生过滤条件
	filters, _ = p.Parse("software engineers")
	assert.Empty(t, filters.Skills)

	filters, _ = p.Parse("senior developers")
	assert.Empty(t, filters.Skills)
}

func TestParseNoFilters(t *testing.T) {
	p := NewQueryParser()

	filters, residual := p.Parse("someone passionate about distributed systems")
	assert.True(t, filters.Empty(), "无可识别条件时过滤器应为空")
	assert.Equal(t, "someone passionate about distributed systems", residual)
}

// 幂等性：对残余文本再次解析不应产生新的过滤条件
func TestParseIdempotent(t *testing.T) {
	p := NewQueryParser()

	queries := []string{
		"python developers from MIT with gpa above 3.5",
		"worked at Amazon and skilled in Go, Rust",
		"candidates from Stanford University",
		"experience in Python backend work",
	}
	for _, q := range queries {
		_, residual := p.Parse(q)
		second, residual2 := p.Parse(residual)
		assert.True(t, second.Empty(), "查询 %q 的残余 %q 不应再产生过滤条件", q, residual)
		assert.Equal(t, residual, residual2, "二次解析不应改变残余文本")
	}
}

func TestParseWhitespaceNormalized(t *testing.T) {
	p := NewQueryParser()

	_, residual := p.Parse("find   people   worked at Google   now")
	assert.Equal(t, "find people now", residual, "残余文本应压缩多余空白")
}
