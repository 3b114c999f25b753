package types

import (
	"strings"
	"time"
)

// PersonalInfo 候选人基本信息，所有字段均可为空
type PersonalInfo struct {
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"` // 不满足 local@domain.tld 形式时存空串
	Phone    string   `json:"phone,omitempty"`
	Location string   `json:"location,omitempty"`
	Links    []string `json:"links,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// Education 教育经历条目
type Education struct {
	Institution string  `json:"institution,omitempty"`
	Degree      string  `json:"degree,omitempty"`
	Field       string  `json:"field,omitempty"`
	GPA         float64 `json:"gpa,omitempty"`
	StartDate   string  `json:"start_date,omitempty"`
	EndDate     string  `json:"end_date,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Experience 工作经历条目
type Experience struct {
	Company     string `json:"company,omitempty"`
	Position    string `json:"position,omitempty"`
	Location    string `json:"location,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

// SkillGroup 按类别分组的技能列表
type SkillGroup struct {
	Category string   `json:"category,omitempty"`
	Items    []string `json:"items,omitempty"`
}

// Certification 证书条目
type Certification struct {
	Name   string `json:"name,omitempty"`
	Issuer string `json:"issuer,omitempty"`
	Date   string `json:"date,omitempty"`
}

// Language 语言能力条目
type Language struct {
	Name        string `json:"name,omitempty"`
	Proficiency string `json:"proficiency,omitempty"`
}

// Project 项目经历条目
type Project struct {
	Name         string   `json:"name,omitempty"`
	Description  string   `json:"description,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	URL          string   `json:"url,omitempty"`
}

// Publication 发表作品条目
type Publication struct {
	Title     string `json:"title,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Date      string `json:"date,omitempty"`
}

// Award 获奖条目
type Award struct {
	Title  string `json:"title,omitempty"`
	Issuer string `json:"issuer,omitempty"`
	Date   string `json:"date,omitempty"`
}

// Reference 推荐人条目
type Reference struct {
	Name     string `json:"name,omitempty"`
	Contact  string `json:"contact,omitempty"`
	Relation string `json:"relation,omitempty"`
}

// CandidateRecord 一份已上传简历的结构化表示
// 不变式：Embedding 非空当且仅当提取流水线成功完成；
// SearchableText 在持久化前由各贡献字段重新生成。
type CandidateRecord struct {
	CandidateID      string          `json:"candidate_id"`
	FileName         string          `json:"file_name,omitempty"`
	ExtractedAt      time.Time       `json:"extracted_at,omitempty"`
	ExtractionMethod string          `json:"extraction_method,omitempty"` // text / vision / text_fallback
	Personal         PersonalInfo    `json:"personal"`
	Education        []Education     `json:"education,omitempty"`
	Experience       []Experience    `json:"experience,omitempty"`
	Skills           []SkillGroup    `json:"skills,omitempty"`
	Certifications   []Certification `json:"certifications,omitempty"`
	Languages        []Language      `json:"languages,omitempty"`
	Projects         []Project       `json:"projects,omitempty"`
	Publications     []Publication   `json:"publications,omitempty"`
	Awards           []Award         `json:"awards,omitempty"`
	References       []Reference     `json:"references,omitempty"`
	RawText          string          `json:"raw_text,omitempty"`
	SearchableText   string          `json:"searchable_text,omitempty"`
	Embedding        []float64       `json:"embedding,omitempty"`
	CreatedAt        time.Time       `json:"created_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at,omitempty"`
}

// BuildSearchableText 由摘要、经历描述、技能、教育、证书、项目和发表作品
// 拼接生成可检索文本。持久化前必须调用以保证检索文本与结构化字段一致。
func (c *CandidateRecord) BuildSearchableText() string {
	var parts []string
	appendNonEmpty := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	appendNonEmpty(c.Personal.Summary)
	for _, exp := range c.Experience {
		appendNonEmpty(exp.Position + " " + exp.Company)
		appendNonEmpty(exp.Description)
	}
	for _, sg := range c.Skills {
		appendNonEmpty(strings.Join(sg.Items, " "))
	}
	for _, edu := range c.Education {
		appendNonEmpty(edu.Degree + " " + edu.Field + " " + edu.Institution)
	}
	for _, cert := range c.Certifications {
		appendNonEmpty(cert.Name)
	}
	for _, p := range c.Projects {
		appendNonEmpty(p.Name)
		appendNonEmpty(p.Description)
		appendNonEmpty(strings.Join(p.Technologies, " "))
	}
	for _, pub := range c.Publications {
		appendNonEmpty(pub.Title)
	}

	return strings.Join(parts, "\n")
}

// AllSkillItems 展平所有技能分组，供过滤谓词使用
func (c *CandidateRecord) AllSkillItems() []string {
	var items []string
	for _, sg := range c.Skills {
		items = append(items, sg.Items...)
	}
	return items
}

// JobPosting 一条岗位信息
// 不变式：删除岗位仅置 Active=false，从不物理删除；
// 所有列表与匹配查询必须过滤 Active=true。
type JobPosting struct {
	JobID            string    `json:"job_id"`
	Title            string    `json:"title"`
	Company          string    `json:"company,omitempty"`
	Description      string    `json:"description,omitempty"`
	Requirements     []string  `json:"requirements,omitempty"`
	Skills           []string  `json:"skills,omitempty"` // 集合语义，保留插入顺序
	Responsibilities []string  `json:"responsibilities,omitempty"`
	Location         string    `json:"location,omitempty"`
	Salary           string    `json:"salary,omitempty"`
	JobType          string    `json:"job_type,omitempty"`
	Industry         string    `json:"industry,omitempty"`
	ExperienceLevel  string    `json:"experience_level,omitempty"`
	EducationLevel   string    `json:"education_level,omitempty"`
	Active           bool      `json:"active"`
	RawDescription   string    `json:"raw_description,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// SearchFilters 查询解析器的结构化输出。采用带标签的结构体而非无类型map，
// 过滤器是纯加性的：任意子集（包括空集）都合法。
type SearchFilters struct {
	MinGPA      *float64 `json:"min_gpa,omitempty"`      // GPA下界（含）
	Employer    string   `json:"employer,omitempty"`     // 雇主名子串
	Institution string   `json:"institution,omitempty"`  // 院校名子串
	Skills      []string `json:"skills,omitempty"`       // 技能/职位短语
}

// Empty 报告是否没有任何过滤器
func (f SearchFilters) Empty() bool {
	return f.MinGPA == nil && f.Employer == "" && f.Institution == "" && len(f.Skills) == 0
}

// 检索结果的匹配类型标记
const (
	MatchTypeFilter = "filter" // 纯结构化过滤，未参与向量排序
	MatchTypeHybrid = "hybrid" // 过滤后按余弦相似度排序
)

// SearchResult 混合检索的单条结果
type SearchResult struct {
	Candidate *CandidateRecord `json:"candidate"`
	Score     float64          `json:"score"` // [0,1]
	MatchType string           `json:"match_type"`
}

// ScoreDetail 单维度匹配得分及分析
type ScoreDetail struct {
	Score    float64 `json:"score"`
	Analysis string  `json:"analysis"`
}

// MatchDetails 固定的四个子维度
type MatchDetails struct {
	Skills     ScoreDetail `json:"skills"`
	Experience ScoreDetail `json:"experience"`
	Education  ScoreDetail `json:"education"`
	Overall    ScoreDetail `json:"overall"`
}

// MatchResult 一次人岗匹配计算的结果
type MatchResult struct {
	Score           float64      `json:"score"` // 0-100
	Details         MatchDetails `json:"details"`
	Recommendations []string     `json:"recommendations"`
	FromCache       bool         `json:"from_cache"`
}

// RankedMatch 批量排序结果中的一项
type RankedMatch struct {
	CandidateID     string       `json:"candidate_id"`
	JobID           string       `json:"job_id"`
	Score           float64      `json:"score"`
	Details         MatchDetails `json:"details"`
	Recommendations []string     `json:"recommendations"`
	FromCache       bool         `json:"from_cache"`
}

// JobScore 批量打分接口的单岗位结果
type JobScore struct {
	JobID           string       `json:"job_id"`
	Score           float64      `json:"score"`
	Details         MatchDetails `json:"details"`
	Recommendations []string     `json:"recommendations"`
	Err             error        `json:"-"` // 单项失败不中断批次
}

// CandidateScore 岗位维度批量打分的单候选人结果
type CandidateScore struct {
	CandidateID     string       `json:"candidate_id"`
	Score           float64      `json:"score"`
	Details         MatchDetails `json:"details"`
	Recommendations []string     `json:"recommendations"`
	Err             error        `json:"-"`
}

// FunctionCall 对话轮次中记录的一次工具调用
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
}

// ChatTurn 一轮对话记录，创建后不可变
type ChatTurn struct {
	TurnID        string         `json:"turn_id"`
	UserMessage   string         `json:"user_message"`
	Assistant     string         `json:"assistant"`
	CandidateID   string         `json:"candidate_id,omitempty"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
