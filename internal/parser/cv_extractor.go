package parser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"cv-match-go/internal/logger"
	"cv-match-go/internal/types"
)

// ErrInvalidExtraction LLM输出不满足简历schema。上层捕获后不得入库。
var ErrInvalidExtraction = errors.New("简历提取结果校验失败")

// 宽松的邮箱校验，不满足时字段置空而非报错
var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// CVExtractor 用LLM将简历内容提取为结构化字段。
// 文本模型处理纯文本路径，视觉模型处理扫描件页面图片。
type CVExtractor struct {
	textModel   model.ToolCallingChatModel
	visionModel model.ToolCallingChatModel
	prompt      string
}

// CVExtractorOption CV提取器的配置选项
type CVExtractorOption func(*CVExtractor)

// WithExtractionPrompt 覆盖默认提取提示词
func WithExtractionPrompt(prompt string) CVExtractorOption {
	return func(e *CVExtractor) {
		e.prompt = prompt
	}
}

// NewCVExtractor 创建简历结构化提取器
func NewCVExtractor(textModel, visionModel model.ToolCallingChatModel, options ...CVExtractorOption) *CVExtractor {
	e := &CVExtractor{
		textModel:   textModel,
		visionModel: visionModel,
	}
	e.generatePrompt()
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *CVExtractor) generatePrompt() {
	e.prompt = `你是一位专业的简历信息提取助手。请从下面的简历内容中提取结构化信息，严格按照如下JSON格式输出：

{
  "personal": {"name": "", "email": "", "phone": "", "location": "", "links": [], "summary": ""},
  "education": [{"institution": "", "degree": "", "field": "", "gpa": 0, "start_date": "", "end_date": "", "description": ""}],
  "experience": [{"company": "", "position": "", "location": "", "start_date": "", "end_date": "", "description": ""}],
  "skills": [{"category": "", "items": []}],
  "certifications": [{"name": "", "issuer": "", "date": ""}],
  "languages": [{"name": "", "proficiency": ""}],
  "projects": [{"name": "", "description": "", "technologies": [], "url": ""}],
  "publications": [{"title": "", "publisher": "", "date": ""}],
  "awards": [{"title": "", "issuer": "", "date": ""}],
  "references": [{"name": "", "contact": "", "relation": ""}]
}

**提取规则：**
1. 只提取简历中实际出现的信息，禁止编造。缺失的字段填空字符串或空数组。
2. gpa为数字，简历未注明时填0。gpa按4分制或原始分制照抄，不做换算。
3. 日期保留简历中的原始写法。
4. 技能按简历中的分类分组；简历未分类时统一归入category为"General"的一组。
5. 完整输出必须是一个合法的JSON对象，所有字段名和字符串值使用双引号，字符串内部的双引号用反斜杠转义。
6. 禁止在JSON之外输出任何额外文本、解释或Markdown标记。`
}

// flexFloat 兼容LLM把gpa输出为字符串的情况
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// llmCVPayload LLM提取结果的中间表示
type llmCVPayload struct {
	Personal struct {
		Name     string   `json:"name"`
		Email    string   `json:"email"`
		Phone    string   `json:"phone"`
		Location string   `json:"location"`
		Links    []string `json:"links"`
		Summary  string   `json:"summary"`
	} `json:"personal"`
	Education []struct {
		Institution string    `json:"institution"`
		Degree      string    `json:"degree"`
		Field       string    `json:"field"`
		GPA         flexFloat `json:"gpa"`
		StartDate   string    `json:"start_date"`
		EndDate     string    `json:"end_date"`
		Description string    `json:"description"`
	} `json:"education"`
	Experience     []types.Experience    `json:"experience"`
	Skills         []types.SkillGroup    `json:"skills"`
	Certifications []types.Certification `json:"certifications"`
	Languages      []types.Language      `json:"languages"`
	Projects       []types.Project       `json:"projects"`
	Publications   []types.Publication   `json:"publications"`
	Awards         []types.Award         `json:"awards"`
	References     []types.Reference     `json:"references"`
}

// ExtractFromText 从简历纯文本提取结构化字段
func (e *CVExtractor) ExtractFromText(ctx context.Context, rawText string) (*types.CandidateRecord, error) {
	if e.textModel == nil {
		return nil, fmt.Errorf("文本模型未初始化")
	}

	userMsg := einoschema.UserMessage(e.prompt + "\n\n【简历内容】:\n\"\"\"\n" + rawText + "\n\"\"\"")
	response, err := e.textModel.Generate(ctx, []*einoschema.Message{userMsg})
	if err != nil {
		return nil, fmt.Errorf("简历文本提取LLM调用失败: %w", err)
	}
	return e.parseResponse(response)
}

// ExtractFromImages 从简历页面图片提取结构化字段（视觉模型路径）
func (e *CVExtractor) ExtractFromImages(ctx context.Context, images [][]byte) (*types.CandidateRecord, error) {
	if e.visionModel == nil {
		return nil, fmt.Errorf("视觉模型未初始化")
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("页面图片列表为空")
	}

	parts := make([]einoschema.ChatMessagePart, 0, len(images)+1)
	parts = append(parts, einoschema.ChatMessagePart{
		Type: einoschema.ChatMessagePartTypeText,
		Text: e.prompt + "\n\n以下是这份简历的各页图片，请按页面顺序阅读后提取：",
	})
	for _, img := range images {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
		parts = append(parts, einoschema.ChatMessagePart{
			Type: einoschema.ChatMessagePartTypeImageURL,
			ImageURL: &einoschema.ChatMessageImageURL{
				URL: dataURL,
			},
		})
	}

	userMsg := &einoschema.Message{
		Role:         einoschema.User,
		MultiContent: parts,
	}
	response, err := e.visionModel.Generate(ctx, []*einoschema.Message{userMsg})
	if err != nil {
		return nil, fmt.Errorf("简历图片提取LLM调用失败: %w", err)
	}
	return e.parseResponse(response)
}

func (e *CVExtractor) parseResponse(response *einoschema.Message) (*types.CandidateRecord, error) {
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("%w: LLM返回空响应", ErrInvalidExtraction)
	}

	processed := strings.TrimPrefix(response.Content, "\uFEFF")
	jsonStr := extractJSONFromResponse(processed)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: 响应中未找到JSON对象", ErrInvalidExtraction)
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var payload llmCVPayload
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &payload); jsonErr != nil {
			return nil, fmt.Errorf("%w: JSON解析失败: %v", ErrInvalidExtraction, err)
		}
	}

	rec := payloadToRecord(&payload)
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	normalizeRecord(rec)
	return rec, nil
}

func payloadToRecord(p *llmCVPayload) *types.CandidateRecord {
	rec := &types.CandidateRecord{
		Personal: types.PersonalInfo{
			Name:     strings.TrimSpace(p.Personal.Name),
			Email:    strings.TrimSpace(p.Personal.Email),
			Phone:    strings.TrimSpace(p.Personal.Phone),
			Location: strings.TrimSpace(p.Personal.Location),
			Links:    p.Personal.Links,
			Summary:  strings.TrimSpace(p.Personal.Summary),
		},
		Experience:     p.Experience,
		Skills:         p.Skills,
		Certifications: p.Certifications,
		Languages:      p.Languages,
		Projects:       p.Projects,
		Publications:   p.Publications,
		Awards:         p.Awards,
		References:     p.References,
	}
	for _, edu := range p.Education {
		rec.Education = append(rec.Education, types.Education{
			Institution: strings.TrimSpace(edu.Institution),
			Degree:      strings.TrimSpace(edu.Degree),
			Field:       strings.TrimSpace(edu.Field),
			GPA:         float64(edu.GPA),
			StartDate:   edu.StartDate,
			EndDate:     edu.EndDate,
			Description: edu.Description,
		})
	}
	return rec
}

// validateRecord 校验提取结果：至少包含姓名、教育或工作经历之一，
// 否则判定为无效提取，上层不得入库。
func validateRecord(rec *types.CandidateRecord) error {
	if rec.Personal.Name == "" && len(rec.Education) == 0 && len(rec.Experience) == 0 {
		return fmt.Errorf("%w: 姓名、教育和工作经历均为空", ErrInvalidExtraction)
	}
	for i, edu := range rec.Education {
		if edu.GPA < 0 {
			return fmt.Errorf("%w: education[%d].gpa为负数", ErrInvalidExtraction, i)
		}
	}
	return nil
}

// normalizeRecord 字段级修正：不合法的邮箱置空而非拒绝整条记录
func normalizeRecord(rec *types.CandidateRecord) {
	if rec.Personal.Email != "" && !emailPattern.MatchString(rec.Personal.Email) {
		logger.Debug().Str("email", rec.Personal.Email).Msg("邮箱格式不合法，已置空")
		rec.Personal.Email = ""
	}
}
