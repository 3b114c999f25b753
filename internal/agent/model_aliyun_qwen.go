package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"cv-match-go/internal/logger"
)

const (
	openAICompatibleQwenAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultQwenModelName       = "qwen-plus"
)

// --- OpenAI兼容结构 ---

// OpenAIToolFunctionParamsProperty 工具参数的单个属性描述
type OpenAIToolFunctionParamsProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *OpenAIToolFunctionParamsProperty `json:"items,omitempty"`
}

// OpenAIToolFunctionParams 工具参数的JSON Schema
type OpenAIToolFunctionParams struct {
	Type       string                                      `json:"type"`
	Properties map[string]OpenAIToolFunctionParamsProperty `json:"properties"`
	Required   []string                                    `json:"required,omitempty"`
}

// OpenAIFunction 工具函数定义
type OpenAIFunction struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  OpenAIToolFunctionParams `json:"parameters"`
}

// OpenAITool 工具定义，Type恒为 "function"
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// openAIContentPart 多模态消息的内容片段
type openAIContentPart struct {
	Type     string `json:"type"` // text / image_url
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// openAIRequestMessage 请求消息。Content为string或[]openAIContentPart
type openAIRequestMessage struct {
	Role       string               `json:"role"`
	Content    interface{}          `json:"content"`
	ToolCalls  []openAIToolCallData `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

type openAIToolCallData struct {
	Id       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponseMessage struct {
	Role      string               `json:"role"`
	Content   *string              `json:"content"`
	ToolCalls []openAIToolCallData `json:"tool_calls,omitempty"`
}

type openAIChatChoice struct {
	Index        int                   `json:"index"`
	Message      openAIResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type openAICompletionResponse struct {
	Id      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
}

type openAIChatCompletionRequest struct {
	Model    string                 `json:"model"`
	Messages []openAIRequestMessage `json:"messages"`
	Tools    []OpenAITool           `json:"tools,omitempty"`
}

// AliyunQwenChatModel 通过阿里云OpenAI兼容端点调用通义千问，
// 实现 eino 的 model.ToolCallingChatModel 接口。
// 同一实现同时服务文本模型与视觉模型，区别仅在modelName。
type AliyunQwenChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
	boundTools []OpenAITool
}

// NewAliyunQwenChatModel 创建通义千问模型客户端
func NewAliyunQwenChatModel(apiKey string, modelName string, apiURL string) (*AliyunQwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultQwenModelName
	}
	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = openAICompatibleQwenAPIURL
	}

	return &AliyunQwenChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		apiURL:     url,
		httpClient: &http.Client{},
		boundTools: make([]OpenAITool, 0),
	}, nil
}

// SetOpenAITools 直接以OpenAI格式绑定工具，调用方持有完整的参数schema
func (aq *AliyunQwenChatModel) SetOpenAITools(tools []OpenAITool) {
	aq.boundTools = tools
}

// convertMessage 将eino消息转为OpenAI请求消息。
// MultiContent存在时转为多模态片段数组（视觉模型路径）。
func convertMessage(msg *schema.Message) openAIRequestMessage {
	out := openAIRequestMessage{
		Role:       string(msg.Role),
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}

	if len(msg.MultiContent) > 0 {
		parts := make([]openAIContentPart, 0, len(msg.MultiContent))
		for _, p := range msg.MultiContent {
			switch p.Type {
			case schema.ChatMessagePartTypeText:
				parts = append(parts, openAIContentPart{Type: "text", Text: p.Text})
			case schema.ChatMessagePartTypeImageURL:
				if p.ImageURL != nil {
					part := openAIContentPart{Type: "image_url"}
					part.ImageURL = &struct {
						URL string `json:"url"`
					}{URL: p.ImageURL.URL}
					parts = append(parts, part)
				}
			}
		}
		out.Content = parts
	} else {
		out.Content = msg.Content
	}

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]openAIToolCallData, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i].Id = tc.ID
			out.ToolCalls[i].Type = "function"
			out.ToolCalls[i].Function.Name = tc.Function.Name
			out.ToolCalls[i].Function.Arguments = tc.Function.Arguments
		}
	}
	return out
}

// Generate 实现 model.ChatModel 接口
func (aq *AliyunQwenChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	apiMessages := make([]openAIRequestMessage, 0, len(messages))
	for _, msg := range messages {
		apiMessages = append(apiMessages, convertMessage(msg))
	}

	reqPayload := openAIChatCompletionRequest{
		Model:    aq.modelName,
		Messages: apiMessages,
	}
	if len(aq.boundTools) > 0 {
		reqPayload.Tools = aq.boundTools
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, aq.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+aq.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug().Str("model", aq.modelName).Int("messages", len(apiMessages)).Msg("发送LLM请求")

	httpResp, err := aq.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var openAIResp openAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &openAIResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项: %s", string(bodyBytes))
	}

	apiMessage := openAIResp.Choices[0].Message
	responseContent := ""
	if apiMessage.Content != nil {
		responseContent = *apiMessage.Content
	}

	resultMessage := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: responseContent,
	}
	if resultMessage.Role == "" {
		resultMessage.Role = schema.Assistant
	}

	if len(apiMessage.ToolCalls) > 0 {
		resultMessage.ToolCalls = make([]schema.ToolCall, len(apiMessage.ToolCalls))
		for i, tc := range apiMessage.ToolCalls {
			resultMessage.ToolCalls[i] = schema.ToolCall{
				ID: tc.Id,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}

	return resultMessage, nil
}

// Stream 实现 model.ChatModel 接口。当前未使用流式输出
func (aq *AliyunQwenChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("AliyunQwenChatModel 的 Stream 方法未实现")
}

// BindTools 实现 model.ChatModel 接口。仅记录工具名与描述，
// 参数schema需通过 SetOpenAITools 提供完整定义。
func (aq *AliyunQwenChatModel) BindTools(tools []*schema.ToolInfo) error {
	aq.boundTools = make([]OpenAITool, 0, len(tools))
	for _, toolInfo := range tools {
		if toolInfo == nil {
			continue
		}
		aq.boundTools = append(aq.boundTools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        toolInfo.Name,
				Description: toolInfo.Desc,
				Parameters:  OpenAIToolFunctionParams{Type: "object", Properties: map[string]OpenAIToolFunctionParamsProperty{}},
			},
		})
	}
	return nil
}

// WithTools 实现 model.ToolCallingChatModel 接口
func (aq *AliyunQwenChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := aq.BindTools(tools); err != nil {
		return nil, err
	}
	return aq, nil
}

var _ model.ChatModel = (*AliyunQwenChatModel)(nil)
var _ model.ToolCallingChatModel = (*AliyunQwenChatModel)(nil)
