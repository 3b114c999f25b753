package processor

import (
	"regexp"
	"strconv"
	"strings"

	"cv-match-go/internal/types"
)

// 查询过滤条件的识别模式。顺序即抽取顺序：
// 先抽数值条件，再抽雇主/院校，最后抽技能短语。
var (
	// "gpa above 3.5" / "gpa over 3" / "gpa greater than 3.2" / "gpa > 3.5"
	gpaPattern = regexp.MustCompile(`(?i)\bgpa\s*(?:above|over|greater\s+than|at\s+least|>=?)\s*(\d+(?:\.\d+)?)`)

	// "worked at Google" / "work in Microsoft" / "working for Amazon"
	employerPattern = regexp.MustCompile(`(?i)\bwork(?:s|ed|ing)?\s+(?:at|in|for)\s+([A-Za-z][\w&.-]*)`)

	// "from MIT with ..." / "from Stanford University"
	// 尾部的 with/and 连接词一并消耗，保证残余文本干净
	institutionPattern = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z][\w.&-]*(?:\s+[A-Za-z][\w.&-]*)*?)(?:\s+(?:with|and)\b|\s*[,.]|$)`)

	// "experience in Python, Java and Go" / "skilled in React" / "familiar with Docker"
	// 引导词与列表分开匹配：列表以下一个引导词为边界，避免
	// "skilled in React and familiar with Docker" 把引导词吞进技能列表
	skillIntroPattern = regexp.MustCompile(`(?i)\b(?:experience\s+(?:in|with)|skilled\s+in|skills?\s+in|knows?|familiar\s+with|proficient\s+in|expertise\s+in)\s+`)
	skillListPattern  = regexp.MustCompile(`^[\w+#./-]+(?:(?:,\s*|\s+and\s+|\s*&\s*)[\w+#./-]+)*`)

	// "python developers" / "machine learning engineers"
	rolePattern = regexp.MustCompile(`(?i)\b((?:[\w+#./-]+\s+){0,2}[\w+#./-]+)\s+(?:developer|engineer|specialist)s?\b`)

	skillSplitPattern = regexp.MustCompile(`(?i)\s*(?:,|\s+and\s+|\s*&\s*)\s*`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// QueryParser 将自然语言检索语句解析为结构化过滤条件与残余语义文本。
// 纯函数式组件，解析具有幂等性：对残余文本再次解析不产生新过滤条件。
type QueryParser struct{}

// NewQueryParser 创建查询解析器
func NewQueryParser() *QueryParser {
	return &QueryParser{}
}

// Parse 解析查询语句。返回抽取出的过滤条件和去除已识别片段后的残余文本。
// 过滤条件为纯加性语义：空条件表示不过滤。
func (p *QueryParser) Parse(query string) (types.SearchFilters, string) {
	return parseQuery(query)
}

// 内部实现拆出便于测试
func parseQuery(query string) (filters types.SearchFilters, residual string) {
	residual = query

	// GPA下界
	if m := gpaPattern.FindStringSubmatch(residual); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			filters.MinGPA = &v
		}
		residual = strings.Replace(residual, m[0], " ", 1)
	}

	// 雇主
	if m := employerPattern.FindStringSubmatch(residual); m != nil {
		filters.Employer = m[1]
		residual = strings.Replace(residual, m[0], " ", 1)
	}

	// 院校
	if m := institutionPattern.FindStringSubmatch(residual); m != nil {
		filters.Institution = strings.TrimSpace(m[1])
		residual = strings.Replace(residual, m[0], " ", 1)
	}

	// 技能短语（可多次出现）
	if intros := skillIntroPattern.FindAllStringIndex(residual, -1); len(intros) > 0 {
		type span struct{ start, end int }
		spans := make([]span, 0, len(intros))
		for i, loc := range intros {
			regionEnd := len(residual)
			if i+1 < len(intros) {
				regionEnd = intros[i+1][0]
			}
			list := skillListPattern.FindString(residual[loc[1]:regionEnd])
			if list == "" {
				continue
			}
			for _, item := range skillSplitPattern.Split(list, -1) {
				item = strings.TrimSpace(item)
				if item != "" {
					filters.Skills = appendUnique(filters.Skills, item)
				}
			}
			spans = append(spans, span{loc[0], loc[1] + len(list)})
		}
		// 逆序删除，保证前面片段的下标不受影响
		for i := len(spans) - 1; i >= 0; i-- {
			residual = residual[:spans[i].start] + " " + residual[spans[i].end:]
		}
	}

	// 职位短语："python developers" 的前缀词视为技能
	if m := rolePattern.FindStringSubmatch(residual); m != nil {
		skill := strings.TrimSpace(m[1])
		if skill != "" && !isStopPrefix(skill) {
			filters.Skills = appendUnique(filters.Skills, skill)
			residual = strings.Replace(residual, m[0], " ", 1)
		}
	}

	residual = strings.TrimSpace(whitespacePattern.ReplaceAllString(residual, " "))
	return filters, residual
}

// isStopPrefix 过滤掉无技能含义的职位前缀，如 "software engineers"、"senior developers"
func isStopPrefix(s string) bool {
	switch strings.ToLower(s) {
	case "software", "senior", "junior", "lead", "staff", "principal", "the", "a", "an", "all", "any":
		return true
	}
	return false
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if strings.EqualFold(existing, item) {
			return items
		}
	}
	return append(items, item)
}
