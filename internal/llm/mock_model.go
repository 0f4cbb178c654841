package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 定义了 MockChatModel 的单次预期响应
type MockResponse struct {
	Content string
	Error   error
}

// MockChatModel 是一个用于测试的 model.ToolCallingChatModel 实现。
// 设置了 Responses 时按顺序返回，否则每次返回 Content/Err。
type MockChatModel struct {
	Content string
	Err     error

	Responses []MockResponse

	mu       sync.Mutex
	calls    int
	received [][]*schema.Message
}

var _ model.ToolCallingChatModel = (*MockChatModel)(nil)

// NewMockChatModel 创建一个返回固定响应的 MockChatModel
func NewMockChatModel(content string, err error) *MockChatModel {
	return &MockChatModel{Content: content, Err: err}
}

// NewMockChatModelSequential 创建一个按顺序返回不同响应的 MockChatModel
func NewMockChatModelSequential(responses ...MockResponse) *MockChatModel {
	return &MockChatModel{Responses: responses}
}

// Generate 记录输入并返回预设响应
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]*schema.Message, len(input))
	copy(msgs, input)
	m.received = append(m.received, msgs)
	idx := m.calls
	m.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(m.Responses) > 0 {
		if idx >= len(m.Responses) {
			return nil, errors.New("mock model has run out of sequential responses")
		}
		resp := m.Responses[idx]
		if resp.Error != nil {
			return nil, resp.Error
		}
		return schema.AssistantMessage(resp.Content, nil), nil
	}

	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Content, nil), nil
}

// Stream 返回单条消息的流
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 工具在测试中无意义，直接返回自身
func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// Calls 返回 Generate 被调用的次数
func (m *MockChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastMessages 返回最近一次调用收到的消息
func (m *MockChatModel) LastMessages() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) == 0 {
		return nil
	}
	return m.received[len(m.received)-1]
}
