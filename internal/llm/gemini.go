package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// ErrEmptyResponse 模型没有返回任何文本
var ErrEmptyResponse = errors.New("gemini api returned empty response")

// contentGenerator 是 genai.Models 的最小子集，便于测试替换
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiChatModel 以 eino ChatModel 接口封装 Google Gemini
type GeminiChatModel struct {
	models       contentGenerator
	modelName    string
	temperature  *float32
	timeout      time.Duration
	jsonResponse bool
}

var _ model.ToolCallingChatModel = (*GeminiChatModel)(nil)

// GeminiOption 配置选项
type GeminiOption func(*GeminiChatModel)

// WithTemperature 默认采样温度
func WithTemperature(t float32) GeminiOption {
	return func(g *GeminiChatModel) {
		g.temperature = &t
	}
}

// WithCallTimeout 单次调用超时
func WithCallTimeout(d time.Duration) GeminiOption {
	return func(g *GeminiChatModel) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithJSONResponse 要求模型以 application/json 返回
func WithJSONResponse(enabled bool) GeminiOption {
	return func(g *GeminiChatModel) {
		g.jsonResponse = enabled
	}
}

// NewGeminiChatModel 创建 Gemini API 后端的客户端
func NewGeminiChatModel(ctx context.Context, apiKey, modelName string, opts ...GeminiOption) (*GeminiChatModel, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGeminiChatModel(client.Models, modelName, opts...), nil
}

func newGeminiChatModel(models contentGenerator, modelName string, opts ...GeminiOption) *GeminiChatModel {
	if modelName = strings.TrimSpace(modelName); modelName == "" {
		modelName = defaultGeminiModel
	}
	g := &GeminiChatModel{
		models:    models,
		modelName: modelName,
		timeout:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model 当前使用的模型名
func (g *GeminiChatModel) Model() string {
	return g.modelName
}

// Generate 把 system 消息作为 SystemInstruction，其余按角色转换后发送
func (g *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if g == nil || g.models == nil {
		return nil, errors.New("gemini model is not initialized")
	}

	options := model.GetCommonOptions(&model.Options{Temperature: g.temperature}, opts...)
	modelName := g.modelName
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	contents, system := toGenaiContents(messages)
	if len(contents) == 0 {
		return nil, errors.New("prompt must not be empty")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       options.Temperature,
	}
	if g.jsonResponse {
		cfg.ResponseMIMEType = "application/json"
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.models.GenerateContent(callCtx, modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	text, finishReason := responseText(resp)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	msg := schema.AssistantMessage(text, nil)
	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: finishReason}
	if resp.UsageMetadata != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return msg, nil
}

// Stream 以单条消息的流返回 Generate 的结果
func (g *GeminiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := g.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 本服务只需要纯文本生成
func (g *GeminiChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return g, nil
	}
	return nil, errors.New("gemini chat model does not support tool binding")
}

func toGenaiContents(messages []*schema.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemParts []*genai.Part

	for _, m := range messages {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case schema.System:
			systemParts = append(systemParts, &genai.Part{Text: m.Content})
		case schema.Assistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		case schema.User:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return contents, system
}

func responseText(resp *genai.GenerateContentResponse) (string, string) {
	if resp == nil {
		return "", ""
	}

	var builder strings.Builder
	var finishReason string
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		if finishReason == "" {
			finishReason = string(candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	return strings.TrimSpace(builder.String()), finishReason
}
