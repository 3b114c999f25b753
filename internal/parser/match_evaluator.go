package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"cv-match-go/internal/types"
)

// scoreKeyAliases LLM在维度对象里偶尔用别名代替score字段，统一归一
var scoreKeyAliases = map[string]string{
	"score":     "score",
	"match":     "score",
	"relevance": "score",
	"fit":       "score",
	"alignment": "score",
}

// analysisKeyAliases analysis字段的常见别名
var analysisKeyAliases = map[string]string{
	"analysis":    "analysis",
	"explanation": "analysis",
	"reason":      "analysis",
	"reasoning":   "analysis",
	"comment":     "analysis",
}

// LLMMatchEvaluator 用LLM评估候选人与岗位的匹配度
type LLMMatchEvaluator struct {
	llmModel model.ToolCallingChatModel
	prompt   string
}

// LLMMatchEvaluatorOption 评估器的配置选项
type LLMMatchEvaluatorOption func(*LLMMatchEvaluator)

// WithMatchPrompt 覆盖默认评估提示词
func WithMatchPrompt(prompt string) LLMMatchEvaluatorOption {
	return func(e *LLMMatchEvaluator) {
		e.prompt = prompt
	}
}

// NewLLMMatchEvaluator 创建匹配度评估器
func NewLLMMatchEvaluator(llmModel model.ToolCallingChatModel, options ...LLMMatchEvaluatorOption) *LLMMatchEvaluator {
	e := &LLMMatchEvaluator{llmModel: llmModel}
	e.generatePrompt()
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *LLMMatchEvaluator) generatePrompt() {
	e.prompt = `你是一位极其资深的AI招聘专家。请基于下面的【岗位描述】和【候选人简历】进行深度对比分析，严格按照如下JSON格式输出匹配度评估：

{
  "score": 0,
  "details": {
    "skills": {"score": 0, "analysis": ""},
    "experience": {"score": 0, "analysis": ""},
    "education": {"score": 0, "analysis": ""},
    "overall": {"score": 0, "analysis": ""}
  },
  "recommendations": []
}

**评估要求：**
1. 所有score为0-100的数字。顶层score与details.overall.score保持一致。
2. skills维度：候选人技能与岗位要求技能的吻合程度和熟练度。
3. experience维度：工作经历的相关性、年限和职责契合度。
4. education维度：学历、专业与岗位教育要求的匹配程度。
5. 每个analysis用一两句话给出具体依据，引用简历和岗位中的实际内容，避免空泛描述。
6. recommendations为1-3条给招聘方的建议，如需重点考察的方面或候选人的突出优势。
7. 评分需有区分度：90以上仅给几乎完美的匹配，明显不符的核心要求应将分数压到50以下。
8. 完整输出必须是一个合法的JSON对象，禁止在JSON之外输出任何额外文本或Markdown标记。`
}

// rawScoreDetail 维度对象的宽松形式，先收集所有键再做别名归一
type rawScoreDetail map[string]json.RawMessage

func (r rawScoreDetail) normalize() types.ScoreDetail {
	var out types.ScoreDetail
	for k, v := range r {
		lower := strings.ToLower(k)
		if canonical, ok := scoreKeyAliases[lower]; ok && canonical == "score" {
			var f flexFloat
			if err := f.UnmarshalJSON(v); err == nil && out.Score == 0 {
				out.Score = float64(f)
			}
			continue
		}
		if canonical, ok := analysisKeyAliases[lower]; ok && canonical == "analysis" {
			var s string
			if err := json.Unmarshal(v, &s); err == nil && out.Analysis == "" {
				out.Analysis = s
			}
		}
	}
	return out
}

type rawMatchEvaluation struct {
	Score   flexFloat `json:"score"`
	Details struct {
		Skills     rawScoreDetail `json:"skills"`
		Experience rawScoreDetail `json:"experience"`
		Education  rawScoreDetail `json:"education"`
		Overall    rawScoreDetail `json:"overall"`
	} `json:"details"`
	Recommendations []string `json:"recommendations"`
}

// EvaluateMatch 评估一对候选人与岗位，返回四维评分与建议
func (e *LLMMatchEvaluator) EvaluateMatch(ctx context.Context, candidateText, jobText string) (*types.MatchResult, error) {
	if e.llmModel == nil {
		return nil, fmt.Errorf("LLM模型未初始化")
	}

	systemMsg := einoschema.SystemMessage("你是一位资深的AI招聘助手，专注于分析岗位描述和候选人简历的匹配度。")
	userMsg := einoschema.UserMessage(fmt.Sprintf(
		"%s\n\n【岗位描述】:\n\"\"\"\n%s\n\"\"\"\n\n【候选人简历】:\n\"\"\"\n%s\n\"\"\"",
		e.prompt, jobText, candidateText))

	response, err := e.llmModel.Generate(ctx, []*einoschema.Message{systemMsg, userMsg})
	if err != nil {
		return nil, fmt.Errorf("匹配评估LLM调用失败: %w", err)
	}
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("匹配评估LLM返回空响应")
	}

	processed := strings.TrimPrefix(response.Content, "\uFEFF")
	jsonStr := extractJSONFromResponse(processed)
	if jsonStr == "" {
		return nil, fmt.Errorf("匹配评估响应中未找到JSON对象: %.200s", processed)
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var raw rawMatchEvaluation
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &raw); jsonErr != nil {
			return nil, fmt.Errorf("解析匹配评估JSON失败: %w", err)
		}
	}

	result := &types.MatchResult{
		Score: float64(raw.Score),
		Details: types.MatchDetails{
			Skills:     raw.Details.Skills.normalize(),
			Experience: raw.Details.Experience.normalize(),
			Education:  raw.Details.Education.normalize(),
			Overall:    raw.Details.Overall.normalize(),
		},
		Recommendations: raw.Recommendations,
	}

	// 顶层分数缺失时退回overall维度
	if result.Score == 0 && result.Details.Overall.Score > 0 {
		result.Score = result.Details.Overall.Score
	}
	if err := validateMatchResult(result); err != nil {
		return nil, err
	}
	return result, nil
}

func validateMatchResult(result *types.MatchResult) error {
	if result.Score < 0 || result.Score > 100 {
		return fmt.Errorf("匹配分数超出范围 [0,100]: %f", result.Score)
	}
	for name, d := range map[string]types.ScoreDetail{
		"skills":     result.Details.Skills,
		"experience": result.Details.Experience,
		"education":  result.Details.Education,
		"overall":    result.Details.Overall,
	} {
		if d.Score < 0 || d.Score > 100 {
			return fmt.Errorf("维度 %s 分数超出范围 [0,100]: %f", name, d.Score)
		}
	}
	return nil
}
