package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"cv-match-go/internal/types"
	"cv-match-go/pkg/utils"
)

// Candidate 候选人主表。嵌套列表统一存JSON列，
// 向量列可空：为NULL表示提取流水线未完成。
type Candidate struct {
	CandidateID      string         `gorm:"type:char(36);primaryKey"`
	FileName         string         `gorm:"type:varchar(255)"`
	ExtractedAt      *time.Time     `gorm:"type:datetime(6)"`
	ExtractionMethod string         `gorm:"type:varchar(20)"` // text / vision / text_fallback
	PersonalJSON     datatypes.JSON `gorm:"type:json"`
	EducationJSON    datatypes.JSON `gorm:"type:json"`
	ExperienceJSON   datatypes.JSON `gorm:"type:json"`
	SkillsJSON       datatypes.JSON `gorm:"type:json"`
	ExtrasJSON       datatypes.JSON `gorm:"type:json"` // 证书/语言/项目/发表/获奖/推荐人
	RawText          string         `gorm:"type:mediumtext"`
	SearchableText   string         `gorm:"type:mediumtext"`
	EmbeddingJSON    datatypes.JSON `gorm:"type:json"` // 可空
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// candidateExtras 低频嵌套列表合并存储，避免表列爆炸
type candidateExtras struct {
	Certifications []types.Certification `json:"certifications,omitempty"`
	Languages      []types.Language      `json:"languages,omitempty"`
	Projects       []types.Project       `json:"projects,omitempty"`
	Publications   []types.Publication   `json:"publications,omitempty"`
	Awards         []types.Award         `json:"awards,omitempty"`
	References     []types.Reference     `json:"references,omitempty"`
}

// Job 岗位信息表。Active=false 表示软删除
type Job struct {
	JobID                string         `gorm:"type:char(36);primaryKey"`
	Title                string         `gorm:"type:varchar(255);not null"`
	Company              string         `gorm:"type:varchar(255)"`
	Description          string         `gorm:"type:text"`
	RequirementsJSON     datatypes.JSON `gorm:"type:json"`
	SkillsJSON           datatypes.JSON `gorm:"type:json"`
	ResponsibilitiesJSON datatypes.JSON `gorm:"type:json"`
	Location             string         `gorm:"type:varchar(255)"`
	Salary               string         `gorm:"type:varchar(100)"`
	JobType              string         `gorm:"type:varchar(50)"`
	Industry             string         `gorm:"type:varchar(100)"`
	ExperienceLevel      string         `gorm:"type:varchar(100)"`
	EducationLevel       string         `gorm:"type:varchar(100)"`
	Active               bool           `gorm:"default:true;index:idx_jobs_active"`
	RawDescription       string         `gorm:"type:text"`
	CreatedAt            time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt            time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// CandidateJobMatch 人岗匹配评分缓存表。
// (candidate_id, job_id) 唯一索引保证同一配对只有一条记录，
// 并发重算依赖该索引做原子upsert。
type CandidateJobMatch struct {
	MatchID             uint64         `gorm:"primaryKey;autoIncrement"`
	CandidateID         string         `gorm:"type:char(36);not null;uniqueIndex:idx_match_pair,priority:1;index:idx_match_candidate"`
	JobID               string         `gorm:"type:char(36);not null;uniqueIndex:idx_match_pair,priority:2;index:idx_match_job_score,priority:1"`
	Score               float64        `gorm:"type:double;index:idx_match_job_score,priority:2"`
	DetailsJSON         datatypes.JSON `gorm:"type:json"`
	RecommendationsJSON datatypes.JSON `gorm:"type:json"`
	CVVersion           time.Time      `gorm:"type:datetime(6)"` // 打分时候选人的UpdatedAt
	JobVersion          time.Time      `gorm:"type:datetime(6)"` // 打分时岗位的UpdatedAt
	CacheTime           time.Time      `gorm:"type:datetime(6)"` // 写入时间，TTL起点
	CreatedAt           time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt           time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (CandidateJobMatch) TableName() string {
	return "candidate_job_matches"
}

// ChatTurn 招聘对话记录表，只增不改
type ChatTurn struct {
	TurnID            string         `gorm:"type:char(36);primaryKey"`
	UserMessage       string         `gorm:"type:text;not null"`
	Assistant         string         `gorm:"type:text"`
	CandidateID       string         `gorm:"type:char(36);index:idx_chat_candidate"`
	FunctionCallsJSON datatypes.JSON `gorm:"type:json"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_chat_created"`
}

func (ChatTurn) TableName() string {
	return "chat_turns"
}

func marshalJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化JSON列失败: %w", err)
	}
	return data, nil
}

func unmarshalJSON(data datatypes.JSON, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// CandidateFromRecord 领域对象转数据库行
func CandidateFromRecord(rec *types.CandidateRecord) (*Candidate, error) {
	c := &Candidate{
		CandidateID:      rec.CandidateID,
		FileName:         rec.FileName,
		ExtractionMethod: rec.ExtractionMethod,
		RawText:          rec.RawText,
		SearchableText:   rec.SearchableText,
	}
	if !rec.ExtractedAt.IsZero() {
		c.ExtractedAt = utils.TimePtr(rec.ExtractedAt)
	}

	var err error
	if c.PersonalJSON, err = marshalJSON(rec.Personal); err != nil {
		return nil, err
	}
	if c.EducationJSON, err = marshalJSON(rec.Education); err != nil {
		return nil, err
	}
	if c.ExperienceJSON, err = marshalJSON(rec.Experience); err != nil {
		return nil, err
	}
	if c.SkillsJSON, err = marshalJSON(rec.Skills); err != nil {
		return nil, err
	}
	extras := candidateExtras{
		Certifications: rec.Certifications,
		Languages:      rec.Languages,
		Projects:       rec.Projects,
		Publications:   rec.Publications,
		Awards:         rec.Awards,
		References:     rec.References,
	}
	if c.ExtrasJSON, err = marshalJSON(extras); err != nil {
		return nil, err
	}
	if len(rec.Embedding) > 0 {
		if c.EmbeddingJSON, err = marshalJSON(rec.Embedding); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ToRecord 数据库行转领域对象
func (c *Candidate) ToRecord() (*types.CandidateRecord, error) {
	rec := &types.CandidateRecord{
		CandidateID:      c.CandidateID,
		FileName:         c.FileName,
		ExtractionMethod: c.ExtractionMethod,
		RawText:          c.RawText,
		SearchableText:   c.SearchableText,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if c.ExtractedAt != nil {
		rec.ExtractedAt = *c.ExtractedAt
	}

	if err := unmarshalJSON(c.PersonalJSON, &rec.Personal); err != nil {
		return nil, fmt.Errorf("解析候选人基本信息失败: %w", err)
	}
	if err := unmarshalJSON(c.EducationJSON, &rec.Education); err != nil {
		return nil, fmt.Errorf("解析教育经历失败: %w", err)
	}
	if err := unmarshalJSON(c.ExperienceJSON, &rec.Experience); err != nil {
		return nil, fmt.Errorf("解析工作经历失败: %w", err)
	}
	if err := unmarshalJSON(c.SkillsJSON, &rec.Skills); err != nil {
		return nil, fmt.Errorf("解析技能失败: %w", err)
	}
	var extras candidateExtras
	if err := unmarshalJSON(c.ExtrasJSON, &extras); err != nil {
		return nil, fmt.Errorf("解析附加信息失败: %w", err)
	}
	rec.Certifications = extras.Certifications
	rec.Languages = extras.Languages
	rec.Projects = extras.Projects
	rec.Publications = extras.Publications
	rec.Awards = extras.Awards
	rec.References = extras.References

	if err := unmarshalJSON(c.EmbeddingJSON, &rec.Embedding); err != nil {
		return nil, fmt.Errorf("解析向量失败: %w", err)
	}
	return rec, nil
}

// JobFromPosting 领域对象转数据库行
func JobFromPosting(p *types.JobPosting) (*Job, error) {
	j := &Job{
		JobID:           p.JobID,
		Title:           p.Title,
		Company:         p.Company,
		Description:     p.Description,
		Location:        p.Location,
		Salary:          p.Salary,
		JobType:         p.JobType,
		Industry:        p.Industry,
		ExperienceLevel: p.ExperienceLevel,
		EducationLevel:  p.EducationLevel,
		Active:          p.Active,
		RawDescription:  p.RawDescription,
	}
	var err error
	if j.RequirementsJSON, err = marshalJSON(p.Requirements); err != nil {
		return nil, err
	}
	if j.SkillsJSON, err = marshalJSON(p.Skills); err != nil {
		return nil, err
	}
	if j.ResponsibilitiesJSON, err = marshalJSON(p.Responsibilities); err != nil {
		return nil, err
	}
	return j, nil
}

// ToPosting 数据库行转领域对象
func (j *Job) ToPosting() (*types.JobPosting, error) {
	p := &types.JobPosting{
		JobID:           j.JobID,
		Title:           j.Title,
		Company:         j.Company,
		Description:     j.Description,
		Location:        j.Location,
		Salary:          j.Salary,
		JobType:         j.JobType,
		Industry:        j.Industry,
		ExperienceLevel: j.ExperienceLevel,
		EducationLevel:  j.EducationLevel,
		Active:          j.Active,
		RawDescription:  j.RawDescription,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if err := unmarshalJSON(j.RequirementsJSON, &p.Requirements); err != nil {
		return nil, fmt.Errorf("解析岗位要求失败: %w", err)
	}
	if err := unmarshalJSON(j.SkillsJSON, &p.Skills); err != nil {
		return nil, fmt.Errorf("解析岗位技能失败: %w", err)
	}
	if err := unmarshalJSON(j.ResponsibilitiesJSON, &p.Responsibilities); err != nil {
		return nil, fmt.Errorf("解析岗位职责失败: %w", err)
	}
	return p, nil
}

// MatchFromRanked 领域对象转数据库行
func MatchFromRanked(m *types.RankedMatch, cvVersion, jobVersion, cacheTime time.Time) (*CandidateJobMatch, error) {
	row := &CandidateJobMatch{
		CandidateID: m.CandidateID,
		JobID:       m.JobID,
		Score:       m.Score,
		CVVersion:   cvVersion,
		JobVersion:  jobVersion,
		CacheTime:   cacheTime,
	}
	var err error
	if row.DetailsJSON, err = marshalJSON(m.Details); err != nil {
		return nil, err
	}
	if row.RecommendationsJSON, err = marshalJSON(m.Recommendations); err != nil {
		return nil, err
	}
	return row, nil
}

// ToRanked 数据库行转领域对象
func (m *CandidateJobMatch) ToRanked() (*types.RankedMatch, error) {
	r := &types.RankedMatch{
		CandidateID: m.CandidateID,
		JobID:       m.JobID,
		Score:       m.Score,
		FromCache:   true,
	}
	if err := unmarshalJSON(m.DetailsJSON, &r.Details); err != nil {
		return nil, fmt.Errorf("解析匹配详情失败: %w", err)
	}
	if err := unmarshalJSON(m.RecommendationsJSON, &r.Recommendations); err != nil {
		return nil, fmt.Errorf("解析匹配建议失败: %w", err)
	}
	return r, nil
}

// ChatTurnFromDomain 领域对象转数据库行
func ChatTurnFromDomain(t *types.ChatTurn) (*ChatTurn, error) {
	row := &ChatTurn{
		TurnID:      t.TurnID,
		UserMessage: t.UserMessage,
		Assistant:   t.Assistant,
		CandidateID: t.CandidateID,
	}
	var err error
	if row.FunctionCallsJSON, err = marshalJSON(t.FunctionCalls); err != nil {
		return nil, err
	}
	return row, nil
}

// ToDomain 数据库行转领域对象
func (t *ChatTurn) ToDomain() (*types.ChatTurn, error) {
	d := &types.ChatTurn{
		TurnID:      t.TurnID,
		UserMessage: t.UserMessage,
		Assistant:   t.Assistant,
		CandidateID: t.CandidateID,
		CreatedAt:   t.CreatedAt,
	}
	if err := unmarshalJSON(t.FunctionCallsJSON, &d.FunctionCalls); err != nil {
		return nil, fmt.Errorf("解析工具调用记录失败: %w", err)
	}
	return d, nil
}
