package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"cv-match-go/internal/agent"
	"cv-match-go/internal/logger"
	"cv-match-go/internal/types"
)

// ToolChatModel 支持OpenAI格式工具绑定的对话模型
type ToolChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
	SetOpenAITools(tools []agent.OpenAITool)
}

const chatSystemPrompt = `你是一个招聘数据助手，帮助招聘方检索候选人、查看简历详情并评估人岗匹配度。
你可以调用工具完成以上操作。回答时基于工具返回的真实数据，不要编造候选人信息。
涉及分数时说明分数来源（检索相似度为0-1，匹配度评估为0-100）。`

const defaultMaxToolRounds = 5

// ChatAssistant 工具调用式对话服务。每轮对话允许模型多次调用工具，
// 直到模型给出最终回答或达到轮次上限。完整轮次（含工具调用记录）落库。
type ChatAssistant struct {
	chatModel  ToolChatModel
	search     *SearchEngine
	candidates CandidateStore
	matcher    *MatchService
	chats      ChatStore

	maxToolRounds int
	historyTurns  int
}

// NewChatAssistant 创建对话服务并绑定工具schema
func NewChatAssistant(chatModel ToolChatModel, search *SearchEngine, candidates CandidateStore, matcher *MatchService, chats ChatStore) *ChatAssistant {
	a := &ChatAssistant{
		chatModel:     chatModel,
		search:        search,
		candidates:    candidates,
		matcher:       matcher,
		chats:         chats,
		maxToolRounds: defaultMaxToolRounds,
		historyTurns:  10,
	}
	chatModel.SetOpenAITools(a.toolDefinitions())
	return a
}

func (a *ChatAssistant) toolDefinitions() []agent.OpenAITool {
	return []agent.OpenAITool{
		{
			Type: "function",
			Function: agent.OpenAIFunction{
				Name:        "search_candidates",
				Description: "按自然语言条件检索候选人，支持GPA、雇主、院校、技能等过滤条件与语义描述",
				Parameters: agent.OpenAIToolFunctionParams{
					Type: "object",
					Properties: map[string]agent.OpenAIToolFunctionParamsProperty{
						"query": {Type: "string", Description: "检索语句，如 'python developers from MIT with gpa above 3.5'"},
						"limit": {Type: "integer", Description: "返回条数上限，默认10"},
					},
					Required: []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: agent.OpenAIFunction{
				Name:        "get_candidate",
				Description: "按候选人ID获取完整的结构化简历",
				Parameters: agent.OpenAIToolFunctionParams{
					Type: "object",
					Properties: map[string]agent.OpenAIToolFunctionParamsProperty{
						"candidate_id": {Type: "string", Description: "候选人ID"},
					},
					Required: []string{"candidate_id"},
				},
			},
		},
		{
			Type: "function",
			Function: agent.OpenAIFunction{
				Name:        "match_candidate",
				Description: "评估候选人与岗位的匹配度，返回0-100的总分、分维度得分与建议",
				Parameters: agent.OpenAIToolFunctionParams{
					Type: "object",
					Properties: map[string]agent.OpenAIToolFunctionParamsProperty{
						"candidate_id":  {Type: "string", Description: "候选人ID"},
						"job_id":        {Type: "string", Description: "岗位ID"},
						"force_refresh": {Type: "boolean", Description: "为true时跳过缓存重新评估"},
					},
					Required: []string{"candidate_id", "job_id"},
				},
			},
		},
	}
}

// Chat 处理一条用户消息，返回助手最终回答
func (a *ChatAssistant) Chat(ctx context.Context, userMessage string) (*types.ChatTurn, error) {
	messages := []*schema.Message{schema.SystemMessage(chatSystemPrompt)}
	messages = append(messages, a.loadHistory(ctx)...)
	messages = append(messages, schema.UserMessage(userMessage))

	var functionCalls []types.FunctionCall
	var linkedCandidateID string
	var finalAnswer string

	for round := 0; round < a.maxToolRounds; round++ {
		response, err := a.chatModel.Generate(ctx, messages)
		if err != nil {
			return nil, NewExternalServiceError("", "chat_generate", err.Error())
		}
		if len(response.ToolCalls) == 0 {
			finalAnswer = response.Content
			break
		}

		messages = append(messages, response)
		for _, tc := range response.ToolCalls {
			result, candidateID := a.executeTool(ctx, tc.Function.Name, tc.Function.Arguments)
			if candidateID != "" {
				linkedCandidateID = candidateID
			}
			functionCalls = append(functionCalls, types.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Result:    result,
			})
			messages = append(messages, schema.ToolMessage(result, tc.ID))
		}
	}

	if finalAnswer == "" {
		finalAnswer = "抱歉，本轮处理步骤过多未能得出结论，请换个方式描述你的问题。"
	}

	turn := &types.ChatTurn{
		TurnID:        uuid.NewString(),
		UserMessage:   userMessage,
		Assistant:     finalAnswer,
		CandidateID:   linkedCandidateID,
		FunctionCalls: functionCalls,
		CreatedAt:     time.Now(),
	}
	if err := a.chats.SaveChatTurn(ctx, turn); err != nil {
		logger.Warn().Err(err).Msg("保存对话轮次失败")
	}
	return turn, nil
}

// loadHistory 从持久层取最近若干轮对话作为上下文
func (a *ChatAssistant) loadHistory(ctx context.Context) []*schema.Message {
	turns, err := a.chats.ListChatTurns(ctx, a.historyTurns)
	if err != nil {
		logger.Warn().Err(err).Msg("加载对话历史失败，按空历史继续")
		return nil
	}
	messages := make([]*schema.Message, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages, schema.UserMessage(t.UserMessage))
		messages = append(messages, schema.AssistantMessage(t.Assistant, nil))
	}
	return messages
}

// executeTool 执行单次工具调用。错误以文本形式返回给模型，
// 让模型决定如何向用户解释，而不是中断整轮对话。
func (a *ChatAssistant) executeTool(ctx context.Context, name, arguments string) (result, candidateID string) {
	logger.Debug().Str("tool", name).Str("arguments", arguments).Msg("执行工具调用")

	switch name {
	case "search_candidates":
		var args struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return fmt.Sprintf("参数解析失败: %v", err), ""
		}
		results, err := a.search.Search(ctx, args.Query, args.Limit)
		if err != nil {
			return fmt.Sprintf("检索失败: %v", err), ""
		}
		return marshalToolResult(summarizeSearchResults(results)), ""

	case "get_candidate":
		var args struct {
			CandidateID string `json:"candidate_id"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return fmt.Sprintf("参数解析失败: %v", err), ""
		}
		candidate, err := a.candidates.GetCandidateByID(ctx, args.CandidateID)
		if err != nil {
			return fmt.Sprintf("查询失败: %v", err), ""
		}
		if candidate == nil {
			return fmt.Sprintf("候选人 %s 不存在", args.CandidateID), ""
		}
		// 向量和原始文本对模型无意义且过长，裁剪后再返回
		trimmed := *candidate
		trimmed.Embedding = nil
		trimmed.RawText = ""
		trimmed.SearchableText = ""
		return marshalToolResult(trimmed), candidate.CandidateID

	case "match_candidate":
		var args struct {
			CandidateID  string `json:"candidate_id"`
			JobID        string `json:"job_id"`
			ForceRefresh bool   `json:"force_refresh"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return fmt.Sprintf("参数解析失败: %v", err), ""
		}
		match, err := a.matcher.MatchCandidateToJob(ctx, args.CandidateID, args.JobID, args.ForceRefresh)
		if err != nil {
			return fmt.Sprintf("匹配评估失败: %v", err), ""
		}
		return marshalToolResult(match), args.CandidateID

	default:
		return fmt.Sprintf("未知工具: %s", name), ""
	}
}

// searchResultSummary 工具返回给模型的精简检索结果
type searchResultSummary struct {
	CandidateID string  `json:"candidate_id"`
	Name        string  `json:"name,omitempty"`
	Headline    string  `json:"headline,omitempty"`
	Score       float64 `json:"score"`
	MatchType   string  `json:"match_type"`
}

func summarizeSearchResults(results []types.SearchResult) []searchResultSummary {
	out := make([]searchResultSummary, 0, len(results))
	for _, r := range results {
		s := searchResultSummary{
			CandidateID: r.Candidate.CandidateID,
			Name:        r.Candidate.Personal.Name,
			Score:       r.Score,
			MatchType:   r.MatchType,
		}
		if len(r.Candidate.Experience) > 0 {
			exp := r.Candidate.Experience[0]
			s.Headline = exp.Position + " @ " + exp.Company
		}
		out = append(out, s)
	}
	return out
}

func marshalToolResult(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("结果序列化失败: %v", err)
	}
	return string(data)
}
